package assets

import (
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/icarus/engine/core"
)

// ShaderWatcher watches a shader directory and reports modified SPIR-V
// binaries so the Vulkan backend can recreate its pipelines. Dev-mode only;
// the soft device never needs it.
type ShaderWatcher struct {
	fsnotify *fsnotify.Watcher
	events   chan string
	done     chan struct{}
	isClosed bool
}

// NewShaderWatcher starts watching dir.
func NewShaderWatcher(dir string) (*ShaderWatcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(dir); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w := &ShaderWatcher{
		fsnotify: fsWatch,
		events:   make(chan string, 8),
		done:     make(chan struct{}),
	}
	go w.run()
	core.LogInfo("watching shaders in %s", dir)
	return w, nil
}

// Events delivers the paths of rewritten .spv files.
func (w *ShaderWatcher) Events() <-chan string {
	return w.events
}

// Close stops the watcher.
func (w *ShaderWatcher) Close() error {
	if w.isClosed {
		return errors.New("shader watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	return w.fsnotify.Close()
}

func (w *ShaderWatcher) run() {
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(e.Name) != ".spv" {
				continue
			}
			core.LogDebug("shader modified: %s", e.Name)
			select {
			case w.events <- e.Name:
			default:
				// A pending reload already covers this change.
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err.Error())
		case <-w.done:
			return
		}
	}
}

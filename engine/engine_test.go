package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/icarus/engine/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.NumShapes = 4
	cfg.MaxFramesInFlight = 2
	cfg.TotalFrames = 8
	cfg.WatchShaders = false
	return cfg
}

func TestRunHostMode(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Shutdown()

	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, cfg.TotalFrames, e.frames.Frame())
}

func TestRunDeviceModeRotationCadence(t *testing.T) {
	cfg := testConfig()
	cfg.EncoderMode = config.EncoderModeDevice
	cfg.TotalFrames = 16

	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Shutdown()

	require.NoError(t, e.Run(context.Background()))

	// One rotation every NumShapes frames, starting at frame 0: frames 0, 4,
	// 8 and 12 re-encode, nothing else does.
	require.Equal(t, uint64(4), e.devEncoder.Invocations())
}

func TestRunCanceledContext(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	require.Equal(t, uint64(0), e.frames.Frame())
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.EncoderMode = "neither"
	require.Error(t, cfg.Validate())
}

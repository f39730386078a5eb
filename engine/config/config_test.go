package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 16, cfg.NumShapes)
	assert.Equal(t, 3, cfg.MaxFramesInFlight)
	assert.Equal(t, EncoderModeHost, cfg.EncoderMode)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "icarus.toml")
	body := `
num_shapes = 8
encoder_mode = "device"
max_frames_in_flight = 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.NumShapes)
	assert.Equal(t, EncoderModeDevice, cfg.EncoderMode)
	assert.Equal(t, 2, cfg.MaxFramesInFlight)
	// untouched keys keep defaults
	assert.Equal(t, Default().AppName, cfg.AppName)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.NumShapes = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.EncoderMode = "gpu"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxFramesInFlight = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Backend = "opengl"
	assert.Error(t, cfg.Validate())
}

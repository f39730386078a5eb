package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Encoder modes. The mode is a configuration-time choice: both paths fill
// the same command buffer and the run loop never switches mid-flight.
const (
	EncoderModeHost   = "host"
	EncoderModeDevice = "device"
)

// Backends.
const (
	BackendSoft   = "soft"
	BackendVulkan = "vulkan"
)

// Config is the application configuration, loaded from a TOML file.
type Config struct {
	AppName  string `toml:"app_name"`
	LogLevel string `toml:"log_level"`

	// NumShapes is the number of polygon shapes and therefore the number
	// of command slots. Shape i has i+3 sides.
	NumShapes int `toml:"num_shapes"`

	// MaxFramesInFlight bounds the number of submitted-but-not-completed
	// frames before the host blocks.
	MaxFramesInFlight int `toml:"max_frames_in_flight"`

	// EncoderMode selects who fills the command buffer: "host" encodes
	// once at startup, "device" re-encodes on a rotation cadence.
	EncoderMode string `toml:"encoder_mode"`

	// Backend selects the device implementation: "soft" or "vulkan".
	Backend string `toml:"backend"`

	// TotalFrames is how many frames the sample runs before exiting.
	// 0 runs until interrupted.
	TotalFrames uint64 `toml:"total_frames"`

	// ShaderDir holds the compiled SPIR-V kernels for the Vulkan backend.
	ShaderDir string `toml:"shader_dir"`

	// WatchShaders enables the fsnotify watcher over ShaderDir.
	WatchShaders bool `toml:"watch_shaders"`
}

// Default returns the sample's stock configuration: 16 shapes, 3 frames in
// flight, host encoding on the software device.
func Default() Config {
	return Config{
		AppName:           "Icarus ICB Sample",
		LogLevel:          "info",
		NumShapes:         16,
		MaxFramesInFlight: 3,
		EncoderMode:       EncoderModeHost,
		Backend:           BackendSoft,
		TotalFrames:       256,
		ShaderDir:         "assets/shaders",
		WatchShaders:      false,
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the run loop cannot honor.
func (c Config) Validate() error {
	if c.NumShapes < 1 {
		return fmt.Errorf("num_shapes must be >= 1, got %d", c.NumShapes)
	}
	if c.MaxFramesInFlight < 1 {
		return fmt.Errorf("max_frames_in_flight must be >= 1, got %d", c.MaxFramesInFlight)
	}
	switch c.EncoderMode {
	case EncoderModeHost, EncoderModeDevice:
	default:
		return fmt.Errorf("encoder_mode must be %q or %q, got %q", EncoderModeHost, EncoderModeDevice, c.EncoderMode)
	}
	switch c.Backend {
	case BackendSoft, BackendVulkan:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendSoft, BackendVulkan, c.Backend)
	}
	return nil
}

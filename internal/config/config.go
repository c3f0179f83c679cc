// Package config loads neonusb settings from defaults, an optional YAML
// file and NEONUSB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/neonusb/internal/camera"
	"github.com/ayusman/neonusb/internal/exposure"
	"github.com/ayusman/neonusb/internal/stream"
)

// Config holds every setting of a capture run.
type Config struct {
	Eye       EyeConfig       `yaml:"eye"`
	Scene     SceneConfig     `yaml:"scene"`
	Stream    StreamConfig    `yaml:"stream"`
	Store     StoreConfig     `yaml:"store"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// EyeConfig configures the eye camera.
type EyeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"` // uvc or v4l2
	ExposureMode string        `yaml:"exposure_mode"`
	MaxExposure  float64       `yaml:"max_exposure"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SceneConfig configures the scene camera.
type SceneConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig sizes the producer queues.
type StreamConfig struct {
	QueueCapacity int  `yaml:"queue_capacity"`
	IMU           bool `yaml:"imu"`
}

// StoreConfig locates the statistics database. An empty path disables
// recording.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ReconnectConfig controls reconnection after a disconnect.
type ReconnectConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Eye: EyeConfig{
			Enabled:      true,
			Backend:      camera.BackendUVC,
			ExposureMode: exposure.ModeAuto.String(),
			MaxExposure:  exposure.DefaultMaxExposure,
			Timeout:      2 * time.Second,
		},
		Scene: SceneConfig{
			Enabled: true,
			Backend: camera.BackendUVC,
			Timeout: 2 * time.Second,
		},
		Stream: StreamConfig{
			QueueCapacity: stream.DefaultCapacity,
		},
		Store: StoreConfig{
			Path: defaultDBPath(),
		},
		Reconnect: ReconnectConfig{
			Enabled:  true,
			Interval: camera.DefaultReconnectInterval,
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (if
// path is not empty) and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Eye.Backend = getEnvOrDefault("NEONUSB_EYE_BACKEND", c.Eye.Backend)
	c.Eye.ExposureMode = getEnvOrDefault("NEONUSB_EXPOSURE_MODE", c.Eye.ExposureMode)
	c.Eye.MaxExposure = getEnvAsFloatOrDefault("NEONUSB_MAX_EXPOSURE", c.Eye.MaxExposure)
	c.Eye.Timeout = getEnvAsDurationOrDefault("NEONUSB_TIMEOUT", c.Eye.Timeout)
	c.Scene.Backend = getEnvOrDefault("NEONUSB_SCENE_BACKEND", c.Scene.Backend)
	c.Scene.Timeout = getEnvAsDurationOrDefault("NEONUSB_TIMEOUT", c.Scene.Timeout)
	c.Stream.QueueCapacity = getEnvAsIntOrDefault("NEONUSB_QUEUE_CAPACITY", c.Stream.QueueCapacity)
	c.Store.Path = getEnvOrDefault("NEONUSB_DB", c.Store.Path)
	c.Reconnect.Interval = getEnvAsDurationOrDefault("NEONUSB_RECONNECT_INTERVAL", c.Reconnect.Interval)
}

// Validate checks the configuration for values no run could use.
func (c *Config) Validate() error {
	var errs []error

	if !c.Eye.Enabled && !c.Scene.Enabled {
		errs = append(errs, errors.New("at least one of eye and scene must be enabled"))
	}
	for name, kind := range map[string]string{"eye": c.Eye.Backend, "scene": c.Scene.Backend} {
		if kind != camera.BackendUVC && kind != camera.BackendV4L2 {
			errs = append(errs, fmt.Errorf("%s backend: unknown kind %q", name, kind))
		}
	}
	if _, err := exposure.ParseMode(c.Eye.ExposureMode); err != nil {
		errs = append(errs, err)
	}
	if c.Eye.MaxExposure < exposure.MinExposure {
		errs = append(errs, fmt.Errorf("max exposure %g below minimum %g", c.Eye.MaxExposure, exposure.MinExposure))
	}
	if c.Eye.Timeout <= 0 || c.Scene.Timeout <= 0 {
		errs = append(errs, errors.New("frame timeout must be positive"))
	}
	if c.Stream.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity %d must be at least 1", c.Stream.QueueCapacity))
	}
	if c.Reconnect.Enabled && c.Reconnect.Interval <= 0 {
		errs = append(errs, errors.New("reconnect interval must be positive"))
	}

	return errors.Join(errs...)
}

// ExposureMode returns the parsed eye exposure mode.
func (c *Config) ExposureMode() exposure.Mode {
	mode, err := exposure.ParseMode(c.Eye.ExposureMode)
	if err != nil {
		return exposure.ModeAuto
	}
	return mode
}

func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".neonusb", "neonusb.db")
}

// getEnvOrDefault returns the environment value for key, or defaultValue
// when it is unset.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config provides configuration management for VoiceTwin.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Capture CaptureConfig `mapstructure:"capture"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Log     LogConfig     `mapstructure:"log"`
}

// BackendConfig configures the voice backend endpoints.
type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
	DialogueTimeout   time.Duration `mapstructure:"dialogue_timeout"`
	SynthesisTimeout  time.Duration `mapstructure:"synthesis_timeout"`
}

// CaptureConfig configures audio/video capture.
type CaptureConfig struct {
	AudioMediaType string        `mapstructure:"audio_media_type"`
	VideoMediaType string        `mapstructure:"video_media_type"`
	DeviceTimeout  time.Duration `mapstructure:"device_timeout"`
}

// GatewayConfig configures the browser-surface gateway.
type GatewayConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Dir     string `mapstructure:"dir"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// Default returns sensible default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Backend: BackendConfig{
			BaseURL:           "http://localhost:8000",
			TranscribeTimeout: 30 * time.Second,
			DialogueTimeout:   30 * time.Second,
			SynthesisTimeout:  60 * time.Second,
		},
		Capture: CaptureConfig{
			AudioMediaType: "audio/mp3",
			VideoMediaType: "video/webm",
			DeviceTimeout:  10 * time.Second,
		},
		Gateway: GatewayConfig{
			ListenAddr: "127.0.0.1:8765",
		},
		Log: LogConfig{
			Dir:     filepath.Join(home, ".voicetwin", "logs"),
			Level:   "debug",
			Console: true,
		},
	}
}

// Load reads configuration from ~/.voicetwin/config.yaml and the
// VOICETWIN_* environment, creating the file with defaults on first run.
func Load() (*Config, error) {
	cfg := Default()

	dir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(dir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("VOICETWIN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to ~/.voicetwin/config.yaml.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	viper.Set("backend", cfg.Backend)
	viper.Set("capture", cfg.Capture)
	viper.Set("gateway", cfg.Gateway)
	viper.Set("log", cfg.Log)

	return viper.WriteConfigAs(filepath.Join(dir, "config.yaml"))
}

// Watch re-reads the config file on change and invokes onChange with
// the fresh configuration. Unparseable edits are reported and skipped.
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := Default()
		if err := viper.Unmarshal(cfg); err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Dir returns the configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".voicetwin"), nil
}

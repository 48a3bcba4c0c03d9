package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Snoo     SnooConfig     `yaml:"snoo"`
	Realtime RealtimeConfig `yaml:"realtime"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
}

// SnooConfig holds cloud API configuration.
type SnooConfig struct {
	APIBase  string `yaml:"api_base"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Serial   string `yaml:"serial"`
	BabyID   string `yaml:"baby_id"`
}

// RealtimeConfig selects and configures the realtime transport.
type RealtimeConfig struct {
	// Transport is "websocket" or "mqtt".
	Transport string `yaml:"transport"`
	URL       string `yaml:"url"`
}

// MQTTConfig holds MQTT broker configuration, used when the mqtt
// transport is selected.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
}

// SessionConfig holds the token cache file path.
type SessionConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Snoo: SnooConfig{
			APIBase: "https://snoo-api.happiestbaby.com",
		},
		Realtime: RealtimeConfig{
			Transport: "websocket",
		},
		Session: SessionConfig{
			Path: "/data/session.json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays environment variables.
// If path is empty, only defaults + env vars are used.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	switch c.Realtime.Transport {
	case "websocket", "mqtt":
	default:
		return fmt.Errorf("config: unknown realtime transport %q", c.Realtime.Transport)
	}
	if c.Realtime.Transport == "mqtt" && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt transport selected but no broker configured")
	}
	return nil
}

// LogLevel maps the configured level string to a slog.Level.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyEnv overlays environment variables on top of the config.
// Env vars take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SNOO_API_BASE"); v != "" {
		cfg.Snoo.APIBase = v
	}
	if v := os.Getenv("SNOO_USERNAME"); v != "" {
		cfg.Snoo.Username = v
	}
	if v := os.Getenv("SNOO_PASSWORD"); v != "" {
		cfg.Snoo.Password = v
	}
	if v := os.Getenv("SNOO_SERIAL"); v != "" {
		cfg.Snoo.Serial = v
	}
	if v := os.Getenv("SNOO_BABY_ID"); v != "" {
		cfg.Snoo.BabyID = v
	}
	if v := os.Getenv("SNOO_REALTIME_TRANSPORT"); v != "" {
		cfg.Realtime.Transport = v
	}
	if v := os.Getenv("SNOO_REALTIME_URL"); v != "" {
		cfg.Realtime.URL = v
	}
	if v := os.Getenv("SNOO_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("SNOO_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("SNOO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("SNOO_SESSION_PATH"); v != "" {
		cfg.Session.Path = v
	}
	if v := os.Getenv("SNOO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SNOO_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Package config centralises configuration for the circuit binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "circuit"
	configType = "toml"
	// ConfigPathEnv names an explicit config file, overriding the search path.
	ConfigPathEnv = "CIRCUIT_CONFIG"
)

// Config captures runtime configuration for the backend and both devices.
type Config struct {
	HTTPAddress string
	PostgresURL string
	JWTSecret   string
	JWTIssuer   string

	DatabasePath string
	BackendURL   string
	BackendToken string
	UserID       string
	DeviceID     string

	KafkaBrokers   []string
	HostTopic      string
	CompanionTopic string

	TickInterval  time.Duration
	ProbeInterval time.Duration
	SyncInterval  time.Duration
	CallTimeout   time.Duration
	SendTimeout   time.Duration
	FlushBatch    int
}

// Load reads circuit.toml (when present) and environment variables into Config,
// applying defaults for local dev. Environment variables win over the file.
func Load() (Config, error) {
	return load(viper.New(), os.Getenv(ConfigPathEnv))
}

func load(v *viper.Viper, path string) (Config, error) {
	v.SetDefault("http_address", ":8080")
	v.SetDefault("postgres_url", "")
	v.SetDefault("jwt_secret", "dev-secret-change-me")
	v.SetDefault("jwt_issuer", "circuit.identity")
	v.SetDefault("database_path", "circuit.db")
	v.SetDefault("backend_url", "http://localhost:8080")
	v.SetDefault("backend_token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("device_id", "")
	v.SetDefault("kafka_brokers", "kafka:9092")
	v.SetDefault("host_topic", "circuit.to-host")
	v.SetDefault("companion_topic", "circuit.to-companion")
	v.SetDefault("tick_interval", 100*time.Millisecond)
	v.SetDefault("probe_interval", 5*time.Second)
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("call_timeout", 30*time.Second)
	v.SetDefault("send_timeout", 10*time.Second)
	v.SetDefault("flush_batch", 50)
	v.AutomaticEnv()

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(dir + "/circuit")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		HTTPAddress:    v.GetString("http_address"),
		PostgresURL:    v.GetString("postgres_url"),
		JWTSecret:      v.GetString("jwt_secret"),
		JWTIssuer:      v.GetString("jwt_issuer"),
		DatabasePath:   v.GetString("database_path"),
		BackendURL:     v.GetString("backend_url"),
		BackendToken:   v.GetString("backend_token"),
		UserID:         v.GetString("user_id"),
		DeviceID:       v.GetString("device_id"),
		KafkaBrokers:   splitAndTrim(v.GetString("kafka_brokers")),
		HostTopic:      v.GetString("host_topic"),
		CompanionTopic: v.GetString("companion_topic"),
		TickInterval:   v.GetDuration("tick_interval"),
		ProbeInterval:  v.GetDuration("probe_interval"),
		SyncInterval:   v.GetDuration("sync_interval"),
		CallTimeout:    v.GetDuration("call_timeout"),
		SendTimeout:    v.GetDuration("send_timeout"),
		FlushBatch:     v.GetInt("flush_batch"),
	}
	if cfg.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceID = host
		}
	}
	return cfg, nil
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

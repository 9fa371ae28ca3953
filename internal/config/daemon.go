package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SVCDECK_SERVER_LISTEN.
const EnvPrefix = "SVCDECK"

// Daemon is the process-level configuration of the svcdeck server, read from
// an optional TOML file and SVCDECK_* environment variables.
type Daemon struct {
	Server      ServerConfig    `mapstructure:"server"`
	DataDir     string          `mapstructure:"data_dir"`
	Log         LogConfig       `mapstructure:"log"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	History     HistoryConfig   `mapstructure:"history"`
	NATS        NATSConfig      `mapstructure:"nats"`
	Broadcast   BroadcastConfig `mapstructure:"broadcast"`
	StopTimeout time.Duration   `mapstructure:"stop_timeout"`
	WatchConfig bool            `mapstructure:"watch_config"`
}

type ServerConfig struct {
	Listen   string    `mapstructure:"listen"`
	BasePath string    `mapstructure:"base_path"`
	TLS      TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS on the API listener. Either CertFile/KeyFile or Dir
// (holding tls.crt and tls.key) must be set when Enabled.
type TLSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	Hosts        []string `mapstructure:"hosts"`
	MinVersion   string   `mapstructure:"min_version"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HistoryConfig struct {
	DSNs []string `mapstructure:"dsns"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type BroadcastConfig struct {
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "0.0.0.0:8765")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("data_dir", ".")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "svcdeck")
	v.SetDefault("broadcast.send_timeout", 2*time.Second)
	v.SetDefault("stop_timeout", 5*time.Second)
	v.SetDefault("watch_config", false)
}

// NewViper returns a viper instance with svcdeck defaults and env binding.
// Flags may be bound onto it before LoadDaemon.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDaemon reads path (TOML, optional) into v and decodes the result.
// Precedence: flags bound on v > environment > file > defaults.
func LoadDaemon(v *viper.Viper, path string) (Daemon, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Daemon{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var d Daemon
	if err := v.Unmarshal(&d); err != nil {
		return Daemon{}, fmt.Errorf("decode config: %w", err)
	}
	return d, d.Validate()
}

// Validate checks values that would otherwise fail late.
func (d Daemon) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if d.Server.BasePath != "" && !strings.HasPrefix(d.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", d.Server.BasePath))
	}
	switch strings.ToLower(d.Log.Format) {
	case "", "text", "json", "color":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text, json or color", d.Log.Format))
	}
	if d.StopTimeout < 0 {
		errs = append(errs, errors.New("stop_timeout must not be negative"))
	}
	if d.Broadcast.SendTimeout < 0 {
		errs = append(errs, errors.New("broadcast.send_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

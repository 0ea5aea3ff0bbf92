package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // FREETIME_TZ must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// Remote store modes.
const (
	RemoteMySQL  = "mysql"
	RemoteMemory = "memory"
	RemoteOff    = "off"
)

// Config holds file- and environment-driven configuration.
type Config struct {
	Local struct {
		Path string `yaml:"path"` // SQLite file backing the anonymous store
	} `yaml:"local"`
	Remote struct {
		Mode         string        `yaml:"mode"`          // mysql, memory or off
		PollInterval time.Duration `yaml:"poll_interval"` // external change polling for mysql
		WriteRetries uint64        `yaml:"write_retries"` // retries of a transient mysql write failure
	} `yaml:"remote"`
	MySQL struct {
		DSN string `yaml:"dsn"` // e.g., user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
	} `yaml:"mysql"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Reports struct {
		Timezone string `yaml:"timezone"` // e.g., UTC (default), Europe/Paris
	} `yaml:"reports"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var cfg Config
	cfg.Local.Path = "freetime.db"
	cfg.Remote.Mode = RemoteOff
	cfg.Remote.PollInterval = 2 * time.Second
	cfg.Remote.WriteRetries = 3
	cfg.HTTP.Addr = ":8080"
	cfg.Reports.Timezone = "UTC"
	return cfg
}

// Load starts from Default, applies the YAML file at path (or
// FREETIME_CONFIG when path is empty) and then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("FREETIME_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	setString(&cfg.Local.Path, "FREETIME_LOCAL_PATH")
	setString(&cfg.Remote.Mode, "FREETIME_REMOTE")
	setString(&cfg.MySQL.DSN, "MYSQL_DSN")
	setString(&cfg.HTTP.Addr, "FREETIME_HTTP_ADDR")
	setString(&cfg.Reports.Timezone, "FREETIME_TZ")
	if v := os.Getenv("FREETIME_REMOTE_POLL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, errors.New("FREETIME_REMOTE_POLL must be a positive duration")
		}
		cfg.Remote.PollInterval = d
	}
	if v := os.Getenv("FREETIME_REMOTE_RETRIES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return cfg, errors.New("FREETIME_REMOTE_RETRIES must be a non-negative integer")
		}
		cfg.Remote.WriteRetries = n
	}

	return cfg, cfg.validate()
}

// Location resolves Reports.Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Reports.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Reports.Timezone, err)
	}
	return loc, nil
}

func (c Config) validate() error {
	switch c.Remote.Mode {
	case RemoteOff, RemoteMemory:
	case RemoteMySQL:
		if c.MySQL.DSN == "" {
			return errors.New("MYSQL_DSN is required when FREETIME_REMOTE=mysql")
		}
	default:
		return fmt.Errorf("FREETIME_REMOTE must be mysql, memory or off, got %q", c.Remote.Mode)
	}
	if c.Local.Path == "" {
		return errors.New("FREETIME_LOCAL_PATH must not be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

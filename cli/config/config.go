// Package config handles YAML config file loading for mtracker.
package config

import (
	"strconv"
	"time"
)

// Config represents an mtracker.yaml configuration file. All values are
// optional; Load fills any field the file leaves at its zero value from
// Defaults().
//
// A single-file struct with ${VAR} expansion, generalized from a
// storage/policy/proxy/adapter grouping to mtracker's own domain groups:
// one immutable value loaded once and passed explicitly, never a
// package-level global.
type Config struct {
	Mtracker MtrackerConfig `yaml:"mtracker"`
	Log      LogConfig      `yaml:"log"`
	Mwdb     MwdbConfig     `yaml:"mwdb"`
	Database DatabaseConfig `yaml:"database"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Redis    RedisConfig    `yaml:"redis"`
}

// MtrackerConfig holds the scheduling/execution tunables.
type MtrackerConfig struct {
	MaxFailingSpree    int      `yaml:"max_failing_spree"`
	TaskTimeout        Duration `yaml:"task_timeout"`
	TaskPeriod         Duration `yaml:"task_period"`
	DefaultHTTPTimeout Duration `yaml:"default_http_timeout"`
	Debug              bool     `yaml:"debug"`
}

// LogConfig holds the per-task log directory.
type LogConfig struct {
	Dir string `yaml:"dir"`
}

// MwdbConfig holds the artifact store connection.
type MwdbConfig struct {
	URL            string `yaml:"url"`
	APIURLOverride string `yaml:"api_url_override,omitempty"`
	Token          string `yaml:"token"`
}

// DatabaseConfig holds the relational store's connection string.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ProxyConfig holds the external proxy-list source.
type ProxyConfig struct {
	Default string `yaml:"default,omitempty"`
	Method  string `yaml:"method"` // "url" or "file"
	URL     string `yaml:"url,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// RedisConfig holds the job broker's Redis connection.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "15m".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config with mtracker.py's original hardcoded
// defaults, applied by Load wherever the YAML file leaves a field zero.
func Defaults() Config {
	return Config{
		Mtracker: MtrackerConfig{
			MaxFailingSpree:    5,
			TaskTimeout:        Duration{15 * time.Minute},
			TaskPeriod:         Duration{12 * time.Hour},
			DefaultHTTPTimeout: Duration{30 * time.Second},
		},
		Log:   LogConfig{Dir: "/tmp/logs"},
		Proxy: ProxyConfig{Method: "url"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
	}
}

// applyDefaults fills zero-valued fields from Defaults(). It is a
// shallow merge: a field is only ever taken from defaults when the
// loaded config leaves it at its Go zero value.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Mtracker.MaxFailingSpree == 0 {
		cfg.Mtracker.MaxFailingSpree = d.Mtracker.MaxFailingSpree
	}
	if cfg.Mtracker.TaskTimeout.Duration == 0 {
		cfg.Mtracker.TaskTimeout = d.Mtracker.TaskTimeout
	}
	if cfg.Mtracker.TaskPeriod.Duration == 0 {
		cfg.Mtracker.TaskPeriod = d.Mtracker.TaskPeriod
	}
	if cfg.Mtracker.DefaultHTTPTimeout.Duration == 0 {
		cfg.Mtracker.DefaultHTTPTimeout = d.Mtracker.DefaultHTTPTimeout
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = d.Log.Dir
	}
	if cfg.Proxy.Method == "" {
		cfg.Proxy.Method = d.Proxy.Method
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = d.Redis.Host
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = d.Redis.Port
	}
}

// RedisURL builds the connection URL the broker package expects.
func (c Config) RedisURL() string {
	return "redis://" + c.Redis.Host + ":" + strconv.Itoa(c.Redis.Port)
}

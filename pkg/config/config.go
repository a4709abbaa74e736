// Package config loads the daemon configuration: yaml file, then
// CHATSYNC_* environment overrides, then command-line flags, in
// increasing precedence.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Feed struct {
		Buffer int `yaml:"buffer"`
	} `yaml:"feed"`
	Sync struct {
		DedupWindow  string `yaml:"dedup_window"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"sync"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
		Period  string `yaml:"period"`
	} `yaml:"retention"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// DedupWindow parses the configured window, falling back to the default
// on absence or a malformed value.
func (c *Config) DedupWindow() time.Duration {
	return parseDuration(c.Sync.DedupWindow, 10*time.Second)
}

// WriteTimeout parses the configured per-write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Sync.WriteTimeout, 15*time.Second)
}

// RetentionPeriod parses the configured retention horizon; zero disables
// the sweep even when retention is enabled.
func (c *Config) RetentionPeriod() time.Duration {
	return parseDuration(c.Retention.Period, 0)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Load reads the yaml config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map indicating which flags were explicitly
// set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies CHATSYNC_* environment overrides onto cfg and
// reports whether any were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("CHATSYNC_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("CHATSYNC_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("CHATSYNC_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("CHATSYNC_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATSYNC_FEED_BUFFER"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Feed.Buffer = n
		}
	}
	if v := os.Getenv("CHATSYNC_DEDUP_WINDOW"); v != "" {
		envUsed = true
		cfg.Sync.DedupWindow = v
	}
	if v := os.Getenv("CHATSYNC_WRITE_TIMEOUT"); v != "" {
		envUsed = true
		cfg.Sync.WriteTimeout = v
	}
	if v := os.Getenv("CHATSYNC_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Enabled = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("CHATSYNC_RETENTION_PERIOD"); v != "" {
		envUsed = true
		cfg.Retention.Period = v
	}
	if v := os.Getenv("CHATSYNC_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CHATSYNC_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.RateLimit.Burst = n
		}
	}
	return envUsed
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pomelolab/pomelo/internal/spec"
)

// Config represents the pomelo.yml configuration.
type Config struct {
	Version  int      `yaml:"version"`
	Settings Settings `yaml:"settings"`
	Browser  Browser  `yaml:"browser"`
	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
	Notify   Notify   `yaml:"notify"`
}

type Settings struct {
	// RunTimeout caps one full specification run.
	RunTimeout time.Duration `yaml:"run_timeout"`
	LogLevel   string        `yaml:"log_level"`
	// ArtifactsDir is where run directories and logs land.
	ArtifactsDir string `yaml:"artifacts_dir"`
}

type Browser struct {
	Engine   string `yaml:"engine"`
	Headless *bool  `yaml:"headless"`
	// NavigationTimeout bounds each page navigation.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	// ActionTimeout bounds every other page interaction.
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

type Server struct {
	Addr string `yaml:"addr"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Store struct {
	// Type: fs, postgres, redis, none
	Type string `yaml:"type"`
	// For fs
	Dir string `yaml:"dir,omitempty"`
	// For postgres
	DSN string `yaml:"dsn,omitempty"`
	// For redis
	Addr     string        `yaml:"addr,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

type Notify struct {
	// Type: kafka, none
	Type    string   `yaml:"type"`
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// Headless resolves the configured default, which is headless unless
// explicitly disabled.
func (b Browser) HeadlessDefault() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// SpecDefaults exposes the configured browser settings as the parsing
// defaults for specification documents that omit them.
func (c *Config) SpecDefaults() spec.Defaults {
	return spec.Defaults{
		Browser:           spec.Engine(c.Browser.Engine),
		Headless:          c.Browser.Headless,
		ActionTimeout:     c.Browser.ActionTimeout,
		NavigationTimeout: c.Browser.NavigationTimeout,
	}
}

// Load reads and parses the pomelo.yml configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no pomelo.yml exists.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Settings.RunTimeout == 0 {
		c.Settings.RunTimeout = 5 * time.Minute
	}
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = "info"
	}
	if c.Settings.ArtifactsDir == "" {
		c.Settings.ArtifactsDir = ".pomelo"
	}
	if c.Browser.Engine == "" {
		c.Browser.Engine = string(spec.EngineChromium)
	}
	if c.Browser.NavigationTimeout == 0 {
		c.Browser.NavigationTimeout = spec.DefaultNavigationTimeout
	}
	if c.Browser.ActionTimeout == 0 {
		c.Browser.ActionTimeout = spec.DefaultActionTimeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = "fs"
	}
	if c.Store.Type == "fs" && c.Store.Dir == "" {
		c.Store.Dir = ".pomelo/results"
	}
	if c.Store.TTL == 0 {
		c.Store.TTL = 24 * time.Hour
	}
	if c.Notify.Type == "" {
		c.Notify.Type = "none"
	}
	if c.Notify.Topic == "" {
		c.Notify.Topic = "pomelo.runs"
	}
}

func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	if !spec.Engine(c.Browser.Engine).Valid() {
		return fmt.Errorf("invalid browser engine: %s", c.Browser.Engine)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Settings.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.Settings.LogLevel)
	}

	switch c.Store.Type {
	case "fs":
		if c.Store.Dir == "" {
			return fmt.Errorf("store type fs requires dir")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store type postgres requires dsn")
		}
	case "redis":
		if c.Store.Addr == "" {
			return fmt.Errorf("store type redis requires addr")
		}
	case "none":
	default:
		return fmt.Errorf("invalid store type: %s", c.Store.Type)
	}

	switch c.Notify.Type {
	case "kafka":
		if len(c.Notify.Brokers) == 0 {
			return fmt.Errorf("notify type kafka requires brokers")
		}
	case "none":
	default:
		return fmt.Errorf("invalid notify type: %s", c.Notify.Type)
	}

	return nil
}

// ABOUTME: Configuration loading and parsing for concert-herder
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete concert-herder configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Launcher LauncherConfig `yaml:"launcher"`
	Spawn    SpawnConfig    `yaml:"spawn"`
	Agents   AgentsConfig   `yaml:"agents"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the herder's own listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// BackendConfig points at the simulator backend the herder relays
// spawn/kill calls to.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"-"`
	// KillDefault names the agent the backend pre-spawns on startup.
	// The herder clears it during initialization; empty disables.
	KillDefault string `yaml:"kill_default"`

	TimeoutRaw string `yaml:"timeout"`
}

// GatewayConfig points at the routing collaborator that flips channels
// across the multimaster boundary.
type GatewayConfig struct {
	URL       string        `yaml:"url"`
	Namespace string        `yaml:"namespace"`
	Timeout   time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LauncherConfig describes how agent batches are launched locally.
type LauncherConfig struct {
	Command     []string      `yaml:"command"`
	BasePort    int           `yaml:"base_port"`
	GracePeriod time.Duration `yaml:"-"`

	GracePeriodRaw string `yaml:"grace_period"`
}

// SpawnConfig bounds the randomized spawn pose.
type SpawnConfig struct {
	MinX float64 `yaml:"min_x"`
	MaxX float64 `yaml:"max_x"`
	MinY float64 `yaml:"min_y"`
	MaxY float64 `yaml:"max_y"`
}

// AgentsConfig holds the initial batch and startup timing.
type AgentsConfig struct {
	Initial        []string      `yaml:"initial"`
	StartupTimeout time.Duration `yaml:"-"`

	StartupTimeoutRaw string `yaml:"startup_timeout"`
}

// DatabaseConfig holds herd ledger configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 5 * time.Second
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 5 * time.Second
	}
	if c.Gateway.Namespace == "" {
		c.Gateway.Namespace = "/services/turtlesim"
	}
	if c.Launcher.BasePort == 0 {
		c.Launcher.BasePort = 1141
	}
	if c.Launcher.GracePeriod == 0 {
		c.Launcher.GracePeriod = 3 * time.Second
	}
	if c.Agents.StartupTimeout == 0 {
		c.Agents.StartupTimeout = 30 * time.Second
	}
	if c.Spawn.MaxX == 0 && c.Spawn.MinX == 0 {
		c.Spawn.MinX, c.Spawn.MaxX = 3.5, 6.5
	}
	if c.Spawn.MaxY == 0 && c.Spawn.MinY == 0 {
		c.Spawn.MinY, c.Spawn.MaxY = 3.5, 6.5
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Agents.Initial) > 0 && len(c.Launcher.Command) == 0 {
		return fmt.Errorf("launcher.command is required when agents.initial is set")
	}
	if c.Spawn.MinX >= c.Spawn.MaxX || c.Spawn.MinY >= c.Spawn.MaxY {
		return fmt.Errorf("spawn region is empty: min bounds must be below max bounds")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.TimeoutRaw != "" {
		cfg.Backend.Timeout, err = time.ParseDuration(cfg.Backend.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing backend.timeout %q: %w", cfg.Backend.TimeoutRaw, err)
		}
	}

	if cfg.Gateway.TimeoutRaw != "" {
		cfg.Gateway.Timeout, err = time.ParseDuration(cfg.Gateway.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing gateway.timeout %q: %w", cfg.Gateway.TimeoutRaw, err)
		}
	}

	if cfg.Launcher.GracePeriodRaw != "" {
		cfg.Launcher.GracePeriod, err = time.ParseDuration(cfg.Launcher.GracePeriodRaw)
		if err != nil {
			return fmt.Errorf("parsing launcher.grace_period %q: %w", cfg.Launcher.GracePeriodRaw, err)
		}
	}

	if cfg.Agents.StartupTimeoutRaw != "" {
		cfg.Agents.StartupTimeout, err = time.ParseDuration(cfg.Agents.StartupTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agents.startup_timeout %q: %w", cfg.Agents.StartupTimeoutRaw, err)
		}
	}

	return nil
}

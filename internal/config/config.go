// Package config handles DevSwarm configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first. Then: ./config.yaml,
// ~/.config/devswarm/config.yaml, /config/config.yaml,
// /etc/devswarm/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "devswarm", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/devswarm/config.yaml")
	return paths
}

// searchPathsFunc is a seam for tests: production code always calls
// DefaultSearchPaths, but tests override this var to avoid accidentally
// picking up a real config file on the machine running the suite.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc() and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all DevSwarm configuration. Every field has a YAML key.
// applyDefaults fills the port, store DSN, intervals, deadlines and
// sizes; the URLs, bearer token, CORS origins and log level stay empty
// when unset, and an empty value means "not configured".
type Config struct {
	ListenPort                   int           `yaml:"listen_port"`
	StoreDSN                     string        `yaml:"store_dsn"`
	EventBusURL                  string        `yaml:"event_bus_url"`
	ExternalOrchestrationBaseURL string        `yaml:"external_orchestration_base_url"`
	BearerToken                  string        `yaml:"bearer_token"`
	HeartbeatInterval            time.Duration `yaml:"heartbeat_interval"`
	DispatcherInterval           time.Duration `yaml:"dispatcher_interval"`
	WriteDeadline                time.Duration `yaml:"write_deadline"`
	PongDeadline                 time.Duration `yaml:"pong_deadline"`
	PingPeriod                   time.Duration `yaml:"ping_period"`
	SnapshotMessagesLimit        int           `yaml:"snapshot_messages_limit"`
	HubSendBuffer                int           `yaml:"hub_send_buffer"`
	CORSOrigins                  []string      `yaml:"cors_origins"`
	LogLevel                     string        `yaml:"log_level"`
}

// EventBusConfigured reports whether a broker URL was supplied; when
// false, the process wires an in-process MemBus instead of MQTTBus.
func (c *Config) EventBusConfigured() bool {
	return c.EventBusURL != ""
}

// OrchestrationConfigured reports whether a reverse-proxy target is
// set; when false, the proxy routes (§6) answer 502.
func (c *Config) OrchestrationConfigured() bool {
	return c.ExternalOrchestrationBaseURL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with the defaults stated in
// the component design (§4). Called automatically by Load and by
// Default.
func (c *Config) applyDefaults() {
	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}
	if c.StoreDSN == "" {
		c.StoreDSN = "./devswarm.db"
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DispatcherInterval == 0 {
		c.DispatcherInterval = 2 * time.Second
	}
	if c.WriteDeadline == 0 {
		c.WriteDeadline = 10 * time.Second
	}
	if c.PongDeadline == 0 {
		c.PongDeadline = 60 * time.Second
	}
	if c.PingPeriod == 0 {
		c.PingPeriod = c.PongDeadline * 9 / 10
	}
	if c.SnapshotMessagesLimit == 0 {
		c.SnapshotMessagesLimit = 20
	}
	if c.HubSendBuffer == 0 {
		c.HubSendBuffer = 256
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen_port %d out of range (1-65535)", c.ListenPort)
	}
	if c.SnapshotMessagesLimit < 1 {
		return fmt.Errorf("snapshot_messages_limit must be positive, got %d", c.SnapshotMessagesLimit)
	}
	if c.HubSendBuffer < 1 {
		return fmt.Errorf("hub_send_buffer must be positive, got %d", c.HubSendBuffer)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against an in-process event bus and SQLite file. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

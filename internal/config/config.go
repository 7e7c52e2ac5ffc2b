// Package config provides configuration management for dstatus.
// It uses koanf v2 to load configuration from YAML files and supports
// saving updated configuration back to disk.
//
// The server daemon and the node agent each have their own config type so
// a host running both keeps separate files with separate secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// Default config file locations.
const (
	DefaultServerConfigPath = "/etc/dstatus/config.yaml"
	DefaultAgentConfigPath  = "/etc/dstatus/agent.yaml"
)

// NATS holds the optional NATS transport settings. When Servers is empty the
// daemon uses the webhook notifier (or none) and skips snapshot publishing.
type NATS struct {
	// Servers is a comma-separated list of NATS server URLs.
	Servers string `koanf:"servers" yaml:"servers"`

	// NKeySeed is the NKey seed used for authentication (starts with SU).
	NKeySeed string `koanf:"nkey_seed" yaml:"nkey_seed"`

	// SubjectPrefix is prepended to published subjects
	// (e.g., "dstatus" -> "dstatus.notice", "dstatus.stats").
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
}

// Server holds the monitoring daemon configuration.
type Server struct {
	// Listen is the HTTP listen address for the dashboard API and
	// websocket push endpoint.
	Listen string `koanf:"listen" yaml:"listen"`

	// DBPath is the path of the bbolt database file holding the server
	// registry, traffic ledger, counters and load history.
	DBPath string `koanf:"db_path" yaml:"db_path"`

	// AdminKey authenticates admin reads (hidden servers, raw connection
	// blobs) via the "key" request header. Empty disables admin access.
	AdminKey string `koanf:"admin_key" yaml:"admin_key"`

	// PollIntervalMS is the agent poll cadence in milliseconds.
	// Default: 1500.
	PollIntervalMS int `koanf:"poll_interval_ms" yaml:"poll_interval_ms"`

	// AgentTimeout is the per-poll HTTP timeout in seconds. Default: 15.
	AgentTimeout int `koanf:"agent_timeout" yaml:"agent_timeout"`

	// OfflineThreshold is the number of consecutive poll failures a server
	// must exceed before it is marked offline. Default: 10.
	OfflineThreshold int `koanf:"offline_threshold" yaml:"offline_threshold"`

	// WebhookURL receives offline/recovery notices as JSON POSTs.
	// Empty disables the webhook notifier.
	WebhookURL string `koanf:"webhook_url" yaml:"webhook_url"`

	// NATS configures the optional NATS notifier and snapshot publisher.
	NATS NATS `koanf:"nats" yaml:"nats"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info.
	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Agent holds the node agent configuration.
type Agent struct {
	// Listen is the address the /stat endpoint binds to. Default: ":9999".
	Listen string `koanf:"listen" yaml:"listen"`

	// Key is the shared secret the server must present in the "key" header.
	Key string `koanf:"key" yaml:"key"`

	// LogLevel controls logging verbosity. Default: info.
	LogLevel string `koanf:"log_level" yaml:"log_level"`
}

// Validation errors returned by the Load functions.
var (
	ErrInvalidPollInterval     = errors.New("poll_interval_ms must be positive")
	ErrInvalidAgentTimeout     = errors.New("agent_timeout must be positive")
	ErrInvalidOfflineThreshold = errors.New("offline_threshold must be positive")
	ErrAgentKeyRequired        = errors.New("key is required")
	ErrNATSIncomplete          = errors.New("nats.nkey_seed is required when nats.servers is set")
)

// LoadServer reads the daemon configuration from a YAML file, applies
// defaults and validates it.
func LoadServer(path string) (*Server, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	var cfg Server
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Server) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":5555"
	}
	if c.DBPath == "" {
		c.DBPath = "dstatus.db"
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 1500
	}
	if c.AgentTimeout == 0 {
		c.AgentTimeout = 15
	}
	if c.OfflineThreshold == 0 {
		c.OfflineThreshold = 10
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "dstatus"
	}
}

func (c *Server) validate() error {
	if c.PollIntervalMS <= 0 {
		return ErrInvalidPollInterval
	}
	if c.AgentTimeout <= 0 {
		return ErrInvalidAgentTimeout
	}
	if c.OfflineThreshold <= 0 {
		return ErrInvalidOfflineThreshold
	}
	if c.NATS.Servers != "" && c.NATS.NKeySeed == "" {
		return ErrNATSIncomplete
	}
	return nil
}

// LoadAgent reads the node agent configuration from a YAML file.
func LoadAgent(path string) (*Agent, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	var cfg Agent
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":9999"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Key == "" {
		return nil, ErrAgentKeyRequired
	}
	return &cfg, nil
}

// Save writes a configuration value to the given YAML file path with 0600
// permissions, since configs carry shared secrets.
func Save(path string, cfg any) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config describes everything xnotehostd needs to read at startup.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Logging       LoggingConfig       `json:"logging"`
	Policy        PolicyConfig        `json:"policy"`
	Worker        WorkerConfig        `json:"worker"`
	ManifestDir   string              `json:"manifest_dir"`
	Collaborators CollaboratorsConfig `json:"collaborators"`
}

// ServerConfig controls the diagnostics HTTP server.
type ServerConfig struct {
	Address string `json:"address"`
}

// LoggingConfig mirrors pkg/logger.Config so the JSON file stays the single
// source of truth for how the host logs.
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig mirrors pkg/logger.AuditConfig.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// PolicyConfig is the on-disk shape of pkg/plugin.Policy before clamping.
type PolicyConfig struct {
	AllowedCapabilities       []string `json:"allowed_capabilities"`
	MaxFailedActivations      int      `json:"max_failed_activations"`
	ActivationTimeoutMillis   int      `json:"activation_timeout_millis"`
	RuntimeMode               string   `json:"runtime_mode"`
	SessionPingTimeoutMillis  int      `json:"session_ping_timeout_millis"`
	MaxKeepAliveSessions      int      `json:"max_keep_alive_sessions"`
	SessionIdleTTLMillis      int      `json:"session_idle_ttl_millis"`
	SupportedProtocolVersions []uint32 `json:"supported_protocol_versions"`
	KeepAliveSession          bool     `json:"keep_alive_session"`
	CountCancelledAsFailure   *bool    `json:"count_cancelled_as_failure,omitempty"`
}

// WorkerConfig describes how the host resolves and launches the default
// worker binary used when a manifest's Command is empty.
type WorkerConfig struct {
	BinaryName  string   `json:"binary_name"`
	EnvOverride string   `json:"env_override"`
	Args        []string `json:"args"`
}

// CollaboratorsConfig holds connection settings for the optional adapters.
// Every field is empty/disabled by default; the host only dials the ones
// that are configured.
type CollaboratorsConfig struct {
	PolicyCache struct {
		Enabled bool   `json:"enabled"`
		Address string `json:"address"`
		Channel string `json:"channel"`
	} `json:"policy_cache"`
	TriggerBus struct {
		Enabled bool   `json:"enabled"`
		URL     string `json:"url"`
		Queue   string `json:"queue"`
	} `json:"trigger_bus"`
	ManifestStore struct {
		Enabled bool   `json:"enabled"`
		DSN     string `json:"dsn"`
	} `json:"manifest_store"`
	ChainTrigger struct {
		Enabled bool   `json:"enabled"`
		RPCURL  string `json:"rpc_url"`
	} `json:"chain_trigger"`
}

// Load reads and parses the JSON configuration file at path, applying
// defaults for anything left unset. Validation of numeric ranges is
// deliberately not performed here: pkg/plugin.Policy.Normalize clamps every
// value it receives, so Load only needs to fill in sensible zero values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8791"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Worker.BinaryName == "" {
		c.Worker.BinaryName = "xnote-plugin-worker"
	}
	if c.Worker.EnvOverride == "" {
		c.Worker.EnvOverride = "XNOTE_PLUGIN_WORKER_BIN"
	}
	if c.Policy.RuntimeMode == "" {
		c.Policy.RuntimeMode = "process"
	}
	_ = baseDir
}

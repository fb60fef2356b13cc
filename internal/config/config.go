// Package config handles easync host configuration loading. Only the
// example host binary reads it — per spec.md §6, the codec, driver, and
// parser packages take no configuration of their own beyond the
// sync.Collection record and per-call options a caller passes directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid matching real config
// files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; absent that:
// ./easync.yaml, ~/.config/easync/easync.yaml, /config/easync.yaml,
// /etc/easync/easync.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"easync.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "easync", "easync.yaml"))
	}

	paths = append(paths, "/config/easync.yaml") // Container convention
	paths = append(paths, "/etc/easync/easync.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise searchPathsFunc is searched in order and the first
// existing path wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds the example host binary's configuration: the EAS server
// and device identity, the collections to keep synchronized, and where
// to persist state. None of this is read by internal/sync, internal/
// email, internal/contacts, or internal/calendar directly.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Collections []CollectionConfig `yaml:"collections"`
	DataDir     string             `yaml:"data_dir"`
	LogLevel    string             `yaml:"log_level"`
}

// ServerConfig names the EAS endpoint and device identity sent on every
// Sync command request (spec.md §6's Transport collaborator inputs).
type ServerConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceID   string `yaml:"device_id"`
	DeviceType string `yaml:"device_type"`
}

// CollectionConfig is one collection this host tracks. ServerID is
// normally discovered via FolderSync rather than hand-configured, but a
// fixed id is accepted here for servers whose well-known folders never
// change (the common case for a primary Inbox/Contacts/Calendar).
type CollectionConfig struct {
	Class      string `yaml:"class"` // "Email", "Contacts", or "Calendar"
	ServerID   string `yaml:"server_id"`
	WindowSize int    `yaml:"window_size"`
}

// Configured reports whether enough server detail is present to attempt
// a connection.
func (c ServerConfig) Configured() bool {
	return c.Endpoint != "" && c.Username != "" && c.Password != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. Only the fields applyDefaults fills in are guaranteed
// non-empty afterwards; server credentials may still be empty (see
// ServerConfig.Configured).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${EASYNC_PASSWORD}) as a
	// convenience for container deployments.
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

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. It defaults DataDir, Server.DeviceType
// and each collection's WindowSize; every other field keeps whatever
// the file set, including empty values.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Server.DeviceType == "" {
		c.Server.DeviceType = "easync"
	}
	for i := range c.Collections {
		if c.Collections[i].WindowSize == 0 {
			c.Collections[i].WindowSize = 25
		}
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	for i, col := range c.Collections {
		switch col.Class {
		case "Email", "Contacts", "Calendar":
		default:
			return fmt.Errorf("collections[%d].class %q is not Email, Contacts, or Calendar", i, col.Class)
		}
		if col.WindowSize < 1 || col.WindowSize > 512 {
			return fmt.Errorf("collections[%d].window_size %d out of range (1-512)", i, col.WindowSize)
		}
	}
	return nil
}

// Default returns a default configuration with all three collections
// enabled and no server endpoint set (the caller must supply one
// before connecting).
func Default() *Config {
	cfg := &Config{
		Collections: []CollectionConfig{
			{Class: "Email"},
			{Class: "Contacts"},
			{Class: "Calendar"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

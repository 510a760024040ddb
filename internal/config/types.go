// Package config loads LeapQuery configuration.
//
// Values are layered with koanf: built-in defaults, then leapquery.yaml,
// then LEAPQUERY_ environment variables, then command-line flags.
package config

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapquery/pkg/adapter"
	"github.com/leapstack-labs/leapquery/pkg/core"
	"github.com/leapstack-labs/leapquery/pkg/meta"
)

// DatabaseConfig describes the database queries run against.
type DatabaseConfig struct {
	Type string `koanf:"type"` // duckdb, postgres, sqlite

	// File-based databases (DuckDB, SQLite)
	Path string `koanf:"path"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`

	Schema  string            `koanf:"schema"`
	Options map[string]string `koanf:"options"`

	// Params holds adapter-specific settings such as DuckDB extensions.
	Params map[string]any `koanf:"params"`
}

// Config holds all LeapQuery settings.
type Config struct {
	Database DatabaseConfig `koanf:"database"`

	// Metadata is the snapshot file describing tables, fields and features.
	// Empty means the built-in sample database.
	Metadata string `koanf:"metadata"`
	// Sample forces the built-in sample database.
	Sample    bool   `koanf:"sample"`
	StatePath string `koanf:"state_path"`
	Output    string `koanf:"output"`
	LogLevel  string `koanf:"log_level"`
	// Features overrides the features declared by the snapshot.
	Features []string `koanf:"features"`
	Verbose  bool     `koanf:"verbose"`

	// ProjectRoot is the directory relative paths resolve against.
	ProjectRoot string `koanf:"-"`
	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// HasDatabase reports whether a database is configured.
func (c *Config) HasDatabase() bool {
	return c.Database.Type != ""
}

// AdapterConfig converts the database section into adapter settings.
func (c *Config) AdapterConfig() *core.AdapterConfig {
	d := c.Database
	return &core.AdapterConfig{
		Type:     strings.ToLower(d.Type),
		Path:     d.Path,
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Name,
		Username: d.User,
		Password: d.Password,
		Schema:   d.Schema,
		Options:  d.Options,
		Params:   d.Params,
	}
}

// FeatureOverrides returns the configured features, or nil when the
// snapshot's own features apply.
func (c *Config) FeatureOverrides() []meta.Feature {
	if len(c.Features) == 0 {
		return nil
	}
	out := make([]meta.Feature, len(c.Features))
	for i, f := range c.Features {
		out[i] = meta.Feature(f)
	}
	return out
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.HasDatabase() && !adapter.IsRegistered(strings.ToLower(c.Database.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      c.Database.Type,
			Available: adapter.ListAdapters(),
		}
	}
	if !validOutput(c.Output) {
		return fmt.Errorf("invalid output format %q (expected one of %s)", c.Output, strings.Join(OutputFormats, ", "))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	known := meta.NewFeatureSet(meta.AllFeatures()...)
	for _, f := range c.FeatureOverrides() {
		if !known.Has(f) {
			return fmt.Errorf("unknown feature %q", f)
		}
	}
	return nil
}

func validOutput(s string) bool {
	for _, f := range OutputFormats {
		if s == f {
			return true
		}
	}
	return false
}

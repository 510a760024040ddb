package config

import "github.com/leapstack-labs/leapquery/pkg/dialect"

// Default configuration values.
const (
	DefaultStateFile = ".leapquery/state.db"
	DefaultOutput    = "auto" // TTY=table, otherwise plain
	DefaultLogLevel  = "warn"
)

// OutputFormats lists the accepted output formats.
var OutputFormats = []string{"auto", "table", "json", "csv", "markdown"}

// ApplyDatabaseDefaults fills type-specific defaults.
func ApplyDatabaseDefaults(d *DatabaseConfig) {
	if d == nil || d.Type == "" {
		return
	}
	if d.Schema == "" {
		d.Schema = DefaultSchemaForType(d.Type)
	}
	if d.Type == "postgres" && d.Port == 0 {
		d.Port = 5432
	}
}

// DefaultSchemaForType returns the default schema for a database type.
// It looks up the dialect in the registry and falls back to "main".
func DefaultSchemaForType(dbType string) string {
	if d, ok := dialect.Get(dbType); ok && d.DefaultSchema != "" {
		return d.DefaultSchema
	}
	return "main"
}

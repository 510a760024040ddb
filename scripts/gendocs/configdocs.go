package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapquery/internal/config"
	"github.com/leapstack-labs/leapquery/pkg/adapter"
)

// ConfigField describes one configuration key.
type ConfigField struct {
	Name        string
	Type        string
	Default     string
	Description string
	Category    string // "general" or "database"
}

// getConfigSchema mirrors the koanf keys of config.Config.
func getConfigSchema() []ConfigField {
	return []ConfigField{
		{Name: "metadata", Type: "string", Description: "Metadata snapshot file (YAML); the sample database when unset", Category: "general"},
		{Name: "sample", Type: "bool", Default: "false", Description: "Use the bundled sample database", Category: "general"},
		{Name: "state_path", Type: "string", Default: config.DefaultStateFile, Description: "Saved question database", Category: "general"},
		{Name: "output", Type: "string", Default: config.DefaultOutput, Description: "Output format: " + strings.Join(config.OutputFormats, ", "), Category: "general"},
		{Name: "log_level", Type: "string", Default: config.DefaultLogLevel, Description: "Log level: debug, info, warn, error", Category: "general"},
		{Name: "features", Type: "[]string", Description: "Replace the database features declared by the metadata", Category: "general"},
		{Name: "verbose", Type: "bool", Default: "false", Description: "Debug logging and config file reporting", Category: "general"},

		{Name: "type", Type: "string", Description: "Database type: " + strings.Join(adapter.ListAdapters(), ", "), Category: "database"},
		{Name: "path", Type: "string", Description: "Database file (DuckDB, SQLite); `:memory:` for in-memory", Category: "database"},
		{Name: "host", Type: "string", Description: "Database host", Category: "database"},
		{Name: "port", Type: "int", Default: "5432 for postgres", Description: "Database port", Category: "database"},
		{Name: "user", Type: "string", Description: "Database user; `${VAR}` is expanded", Category: "database"},
		{Name: "password", Type: "string", Description: "Database password; `${VAR}` is expanded", Category: "database"},
		{Name: "name", Type: "string", Description: "Database name", Category: "database"},
		{Name: "schema", Type: "string", Default: "dialect default", Description: "Default schema", Category: "database"},
		{Name: "options", Type: "map[string]string", Description: "Driver connection options", Category: "database"},
		{Name: "params", Type: "map[string]any", Description: "Adapter settings such as DuckDB extensions", Category: "database"},
	}
}

// generateConfigDocs generates the configuration reference page.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating configuration docs to %s", outDir)

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "LeapQuery configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph("LeapQuery reads " + InlineCode(config.ConfigFileName) + " from the working directory or the nearest parent directory. Relative paths in the file resolve against the directory holding it.")

	fields := getConfigSchema()
	w.Header(2, "General")
	w.Table([]string{"Key", "Type", "Default", "Description"}, fieldRows(fields, "general"))

	w.Header(2, "Database")
	w.Paragraph("The database queries run against, under the " + InlineCode("database") + " key.")
	w.Table([]string{"Key", "Type", "Default", "Description"}, fieldRows(fields, "database"))

	w.Header(2, "Example")
	w.CodeBlock("yaml", `metadata: metadata.yaml
output: table
database:
  type: postgres
  host: localhost
  name: analytics
  user: ${PGUSER}
  password: ${PGPASSWORD}`)

	filename := filepath.Join(outDir, "configuration.md")
	if err := os.WriteFile(filename, w.Bytes(), 0o600); err != nil {
		return err
	}
	log.Printf("  Generated configuration.md")
	return nil
}

func fieldRows(fields []ConfigField, category string) [][]string {
	var rows [][]string
	for _, f := range fields {
		if f.Category != category {
			continue
		}
		def := "-"
		if f.Default != "" {
			def = InlineCode(f.Default)
		}
		rows = append(rows, []string{InlineCode(f.Name), f.Type, def, cleanDescription(f.Description)})
	}
	return rows
}

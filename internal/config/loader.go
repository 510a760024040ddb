package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "leapquery.yaml"
	ConfigFileNameAlt = "leapquery.yml"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: LEAPQUERY_DATABASE__PATH sets database.path.
const EnvPrefix = "LEAPQUERY_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names onto config keys where they differ.
var flagKeys = map[string]string{
	"state":     "state_path",
	"db-type":   "database.type",
	"db-path":   "database.path",
	"db-host":   "database.host",
	"db-port":   "database.port",
	"db-user":   "database.user",
	"db-name":   "database.name",
	"db-schema": "database.schema",
}

// Load reads configuration from cfgFile (or leapquery.yaml found upward
// from the working directory), the environment and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"state_path": DefaultStateFile,
		"output":     DefaultOutput,
		"log_level":  DefaultLogLevel,
		"verbose":    false,
		"sample":     false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	projectRoot := ""
	if cfgFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			if root := FindProjectRoot(cwd); root != "" {
				projectRoot = root
				cfgFile = findConfigFile(root)
			}
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Paths given as flags are relative to the working directory, not the
	// project root.
	flagPaths := map[string]string{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key := flagKey(f.Name)
			val := posflag.FlagVal(flags, f)
			if s, ok := val.(string); ok && isPathKey(key) && s != "" && s != ":memory:" {
				if abs, err := filepath.Abs(s); err == nil {
					flagPaths[key] = abs
				}
			}
			return key, val
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.File = cfgFile
	cfg.Features = splitList(cfg.Features)

	cfg.Database.Type = strings.ToLower(cfg.Database.Type)
	cfg.Database.Password = expandEnvVars(cfg.Database.Password)
	cfg.Database.User = expandEnvVars(cfg.Database.User)
	cfg.Database.Host = expandEnvVars(cfg.Database.Host)
	cfg.Database.Path = expandEnvVars(cfg.Database.Path)
	ApplyDatabaseDefaults(&cfg.Database)

	cfg.Metadata = resolvePath(cfg.Metadata, flagPaths["metadata"], projectRoot)
	cfg.StatePath = resolvePath(cfg.StatePath, flagPaths["state_path"], projectRoot)
	if cfg.Database.Path != ":memory:" {
		cfg.Database.Path = resolvePath(cfg.Database.Path, flagPaths["database.path"], projectRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// FindProjectRoot walks up from startDir to the first directory holding a
// config file. It returns "" when none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKey turns LEAPQUERY_DATABASE__PATH into database.path.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// flagKey turns kebab-case flag names into config keys.
func flagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

func isPathKey(key string) bool {
	return key == "metadata" || key == "state_path" || key == "database.path"
}

// resolvePath prefers an absolute flag path and otherwise resolves p
// against baseDir.
func resolvePath(p, fromFlag, baseDir string) string {
	if fromFlag != "" {
		return fromFlag
	}
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns, leaving unknown variables as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

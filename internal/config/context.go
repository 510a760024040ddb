package config

import "context"

// configKey is used to store the loaded Config in a context.
type configKey struct{}

// WithConfig returns ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the Config stored in ctx, or defaults when none is.
func FromContext(ctx context.Context) *Config {
	if ctx != nil {
		if c, ok := ctx.Value(configKey{}).(*Config); ok {
			return c
		}
	}
	return &Config{
		StatePath: DefaultStateFile,
		Output:    DefaultOutput,
		LogLevel:  DefaultLogLevel,
	}
}

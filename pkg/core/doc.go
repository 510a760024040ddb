// Package core defines the types shared by the execution boundary:
// adapter configuration, table metadata and dialect settings.
//
// pkg/core imports only the standard library. Adapters, dialects and the
// compiler depend on core, not the reverse.
package core

// Package logging configures structured slog output for fabula and provides
// the attribute helpers and standardized field keys used across the
// pipeline, daemon, and service clients. Two output formats are supported:
// a human-oriented console format and JSON for log shippers. Context-scoped
// fields (session, stage, correlation id) are attached via WithContext so
// every log line produced inside a pipeline run carries its identity.
package logging

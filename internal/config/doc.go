// Package config loads, normalizes, and validates the TOML configuration for
// the fabula daemon and CLI. Configuration is organized per subsystem:
// directories, API bind/token, pipeline policy (retry budget, watchdog and
// recovery windows, per-stage asset policy), external generative service
// endpoints, logging, and ntfy notifications.
package config

// Package config loads, normalizes, and validates fanin configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file that sits next to
// the configuration, and honours environment fallbacks such as
// FANIN_NTFY_TOPIC and FANIN_KAFKA_BROKERS. The Config type centralizes every
// knob the daemon and CLI need so batch timing, the worker gate, dispatch
// targets, and signal transports are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

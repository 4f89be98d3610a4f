// Package config loads, normalizes, and validates hitscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HITSCRIBE_DATABASE_DSN and HITSCRIBE_REDIS_ADDR. The Config type centralizes
// every knob the API server, workers, and sweeper need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config

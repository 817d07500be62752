// Package config loads server configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence
// (environment wins).
//
// Environment variables use prefixed names mirroring the config sections:
// SERVER_PORT, SERVER_GRACE_PERIOD, LOGGING_LEVEL, REPOSITORY_DRIVER,
// DISCOVERY_ENDPOINTS, ADMISSION_MAX_CHECKS, and so on.
package config

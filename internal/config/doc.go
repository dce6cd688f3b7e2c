// Package config provides configuration loading and validation for the meeting bot.
// It reads a YAML file on top of built-in defaults, applies .env and environment
// overrides for secrets, and validates every section before use.
package config

// Package config provides configuration loading and validation for the speech service.
// It handles YAML-based configuration layered over built-in defaults and reports
// invalid values as ErrConfiguration.
package config

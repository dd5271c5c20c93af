// Package config loads the syncd YAML configuration, expanding environment
// variables, filling defaults, and validating before anything starts.
package config

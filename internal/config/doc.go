// Package config loads the client configuration from a YAML file with
// ${ENV} expansion, applies VERITY_* environment overrides, and validates
// required fields.
package config

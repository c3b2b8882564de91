// Package config loads, normalizes, and validates the scribed TOML
// configuration. Path fields are expanded (including ~) and absolute after
// Load; Validate enforces the structural invariants other components rely
// on, such as pipeline phase weights summing to 100.
package config

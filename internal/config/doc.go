// Package config loads the server configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, TROUPE_*
// environment variables. The YAML file is decoded strictly; unknown keys are
// an error. The merged result is validated before it is returned.
package config

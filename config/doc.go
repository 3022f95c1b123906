// Package config loads the agentguard service configuration.
//
// Load reads .env files (godotenv), decodes a YAML document with unknown
// fields rejected, applies defaults, resolves ${ENV} and secretref values
// through the secret package and validates the result.
package config

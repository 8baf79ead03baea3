// Package config loads the balancer configuration from an optional YAML file
// and SERVER_ADDRESS style environment overrides, falling back to defaults
// that describe a three backend local setup. Load validates the result before
// returning it.
package config

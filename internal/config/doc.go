// Package config defines the deployer settings and loads them from YAML with
// environment overrides.
//
// Defaults are applied first, then the optional YAML file, then the
// environment (UCB_TOKEN, MAX_WORKERS, APP_DEBUG, DOCKER, UCB_LISTEN).
// Validate fills nothing in; it only rejects unusable settings.
package config

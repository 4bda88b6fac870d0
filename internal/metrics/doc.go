// Package metrics defines the Prometheus collectors of the deployer and
// serves them over HTTP.
package metrics

// Package server wires configuration, the webhook, the ingestion pipeline
// and the health endpoint into the running deployer process.
package server

// Package health exposes the standard gRPC health service for the deployer.
//
// The overall status and the ingestion service status are SERVING while the
// process accepts builds and flip to NOT_SERVING once shutdown starts, so
// load balancers and supervisors stop sending webhooks before work drains.
package health

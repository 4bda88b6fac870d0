// Package logger wraps zap for the deployer.
//
// A global sugared logger is created at init with a console encoder; services
// attach scoped loggers to a context (WithName, WithKV) and log through the
// package-level helpers, so every line emitted during an ingestion carries the
// project, target and ingestion id it belongs to.
package logger

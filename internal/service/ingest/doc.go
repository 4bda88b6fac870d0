// Package ingest runs build events through the fetch and install pipeline
// on a bounded pool of workers.
//
// Dispatch only enqueues; it fails fast with ErrQueueFull or ErrStopped so
// the webhook can answer immediately. Each event becomes one unit of work
// whose single error is reported in one place, together with the stage that
// produced it.
package ingest

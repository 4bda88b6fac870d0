// Package journal records every ingestion run in a SQLite database.
//
// A row is written when a run starts and updated when it finishes, so runs
// interrupted by a crash stay visible with status "running".
package journal

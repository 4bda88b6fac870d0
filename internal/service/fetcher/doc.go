// Package fetcher downloads a build artifact into a fresh staging directory
// and extracts it.
//
// Every fetch gets its own directory tmp/{project}/{target}/{stamp}; a
// directory that already exists is never reused.
package fetcher

// Package lock keeps two deployer processes from working on the same output
// root. The marker file holds the owner's PID; a marker left behind by a
// process that is no longer running is replaced.
package lock

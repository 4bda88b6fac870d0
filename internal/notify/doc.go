// Package notify shows desktop notifications through terminal-notifier.
//
// Whether notifications can be shown is decided once at startup by Detect
// and handed to New; on any other system Notify does nothing.
package notify

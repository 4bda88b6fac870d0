// Package archive reads and writes zip archives of directory trees.
//
// Extraction refuses entries that would land outside the destination
// directory. Writing produces entries with slash-separated paths relative
// to the archived root.
package archive

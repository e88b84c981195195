// Package history persists speed-test records in a JSON array file.
//
// The file format is the one the original desktop tool wrote: a single JSON
// array indented with four spaces, one object per test, oldest first, with
// timestamps as "YYYY-MM-DD HH:MM:SS". Files written by either tool can be
// read by the other.
//
// A Log is safe for concurrent use within one process. Append rewrites the
// whole file through a temporary file and rename, so a crash mid-write never
// leaves a truncated array behind. There is no package-level state: callers
// open a Log and pass it to whoever needs history.
package history

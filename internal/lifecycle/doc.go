// Package lifecycle defines the status machine shared by jobs and cases and
// the coordinator that applies transitions to live entities. A transition is
// validated against the table, applied in memory, then persisted.
package lifecycle

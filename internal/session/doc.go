// Package session persists bounded, repaired conversation history per
// session on top of a kv.Store.
//
// Every read and write passes the item list through the history pipeline
// (sanitize, retain, repair), so a record read back never holds a tool
// output whose call fell outside the window or a reasoning item without a
// following message. Writes are whole-record read-modify-write; there is no
// lock across processes, and callers are expected to run at most one turn
// per session at a time.
//
// Backing store failures are returned wrapped in ErrBackingStoreUnavailable
// and are never retried or swallowed here.
package session

// Package kv provides the small TTL key-value contract the session store and
// the dedupe guard are built on, with memory, Redis and SQLite backends.
//
// Backends report a missing or expired key as ErrNotFound. Every other error
// means the backing store could not be reached or could not complete the
// operation; callers decide whether that fails open or closed.
package kv

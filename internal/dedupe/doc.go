// Package dedupe collapses redelivered webhook updates.
//
// Guard claims an idempotency token per update id with a single
// create-if-absent round trip against a kv.Store. When the store is
// unreachable a claim succeeds (fail open): a possible duplicate turn during
// an outage is preferred over dropping a user's message. An optional
// in-process Cache in front of the store answers repeats without a round trip.
package dedupe

// Package registry caches chat session handles in process.
//
// A handle maps a chat key (conversation id, optionally with a thread id) to
// its deterministic session id and remembers which system instruction
// fingerprint was last sent. The cache is advisory: evicting an entry costs
// one extra lookup and one instruction resend, never data.
package registry

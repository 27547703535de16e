// ABOUTME: ChatSessionRegistry: idle-expiring, size-bounded cache of chat session handles
// ABOUTME: Session ids are UUIDv5 of the chat key so any process derives the same id

package registry

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dolor/dolor-gateway/internal/observability"
)

const (
	// DefaultIdleTTL is how long an unused handle stays cached.
	DefaultIdleTTL = 10 * time.Minute
	// DefaultMaxEntries bounds the number of cached handles.
	DefaultMaxEntries = 10000
)

// sessionNamespace scopes the UUIDv5 derivation of session ids.
var sessionNamespace = uuid.MustParse("3b0f6a52-9d1e-5c47-8a2f-6e7d1c9b4a30")

// SessionClearer deletes a persisted session. session.Store implements it.
type SessionClearer interface {
	Clear(ctx context.Context, sessionID string) error
}

// Handle is a snapshot of a cached chat session.
type Handle struct {
	ChatKey   string
	SessionID string
	// Subject is the last identity passed to SyncSubject.
	Subject string
	// InstructionFingerprint is empty until an instruction is recorded.
	InstructionFingerprint string
	IdleExpiresAt          time.Time
}

type entry struct {
	handle     Handle
	subjectSet bool
}

// Options configures a Registry.
type Options struct {
	IdleTTL    time.Duration
	MaxEntries int
	Now        func() time.Time
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Registry is a concurrency-safe handle cache.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // least recently used at front
	clearer SessionClearer
	idleTTL time.Duration
	max     int
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Registry that clears sessions through clearer on Reset.
func New(clearer SessionClearer, opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		clearer: clearer,
		idleTTL: opts.IdleTTL,
		max:     opts.MaxEntries,
		now:     opts.Now,
		logger:  opts.Logger.With("component", "registry"),
		metrics: opts.Metrics,
	}
}

// ChatKey derives the chat key from a conversation id and optional thread id.
func ChatKey(conversationID, threadID string) string {
	if threadID == "" {
		return conversationID
	}
	return conversationID + ":" + threadID
}

// SessionID deterministically derives a session id from a chat key.
func SessionID(chatKey string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(chatKey)).String()
}

// Fingerprint identifies the instruction variant for a bound subject.
// Equality is a plain comparison of the subject identity.
func Fingerprint(subjectID string) string {
	if subjectID == "" {
		return "subject:none"
	}
	return "subject:" + subjectID
}

// Resolve returns the live handle for chatKey, creating one if absent or idle
// expired. Every call slides the idle deadline.
func (r *Registry) Resolve(chatKey string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touchLocked(chatKey).handle
}

// Reset drops the cached handle, clears the persisted session and returns a
// fresh handle.
func (r *Registry) Reset(ctx context.Context, chatKey string) (Handle, error) {
	r.mu.Lock()
	r.removeLocked(chatKey)
	r.mu.Unlock()

	sessionID := SessionID(chatKey)
	if r.clearer != nil {
		if err := r.clearer.Clear(ctx, sessionID); err != nil {
			return Handle{}, fmt.Errorf("clearing session for %s: %w", chatKey, err)
		}
	}
	r.logger.Info("chat reset", "chat_key", chatKey, "session_id", sessionID)
	return r.Resolve(chatKey), nil
}

// InvalidateInstructionFingerprint forgets the last instruction sent so the
// next turn resends it.
func (r *Registry) InvalidateInstructionFingerprint(chatKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.entries[chatKey]; ok {
		el.Value.(*entry).handle.InstructionFingerprint = ""
	}
}

// RecordInstruction stores the fingerprint of the instruction just sent.
func (r *Registry) RecordInstruction(chatKey, fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked(chatKey).handle.InstructionFingerprint = fingerprint
}

// SyncSubject records the subject bound to chatKey. When it differs from the
// previously seen subject the instruction fingerprint is invalidated and
// changed is true.
func (r *Registry) SyncSubject(chatKey, subject string) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.touchLocked(chatKey)
	if e.subjectSet && e.handle.Subject != subject {
		changed = true
		e.handle.InstructionFingerprint = ""
		r.logger.Debug("chat subject changed", "chat_key", chatKey)
	}
	e.handle.Subject = subject
	e.subjectSet = true
	return changed
}

// Evict drops chatKey from the cache without touching persisted data.
func (r *Registry) Evict(chatKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(chatKey)
}

// Sweep removes idle-expired handles and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for el := r.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if !now.Before(e.handle.IdleExpiresAt) {
			r.order.Remove(el)
			delete(r.entries, e.handle.ChatKey)
			removed++
		}
		el = next
	}
	r.metrics.SetActiveChats(len(r.entries))
	return removed
}

// Len returns the number of cached handles, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept idle chats", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// touchLocked returns the live entry for chatKey, creating it if needed, and
// slides its idle deadline. Must be called with mu held.
func (r *Registry) touchLocked(chatKey string) *entry {
	now := r.now()
	if el, ok := r.entries[chatKey]; ok {
		e := el.Value.(*entry)
		if now.Before(e.handle.IdleExpiresAt) {
			e.handle.IdleExpiresAt = now.Add(r.idleTTL)
			r.order.MoveToBack(el)
			return e
		}
		r.order.Remove(el)
		delete(r.entries, chatKey)
	}

	if len(r.entries) >= r.max {
		if front := r.order.Front(); front != nil {
			r.order.Remove(front)
			delete(r.entries, front.Value.(*entry).handle.ChatKey)
		}
	}

	e := &entry{handle: Handle{
		ChatKey:       chatKey,
		SessionID:     SessionID(chatKey),
		IdleExpiresAt: now.Add(r.idleTTL),
	}}
	r.entries[chatKey] = r.order.PushBack(e)
	r.metrics.SetActiveChats(len(r.entries))
	return e
}

// removeLocked must be called with mu held.
func (r *Registry) removeLocked(chatKey string) {
	if el, ok := r.entries[chatKey]; ok {
		r.order.Remove(el)
		delete(r.entries, chatKey)
		r.metrics.SetActiveChats(len(r.entries))
	}
}

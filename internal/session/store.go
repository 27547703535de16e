// ABOUTME: SessionStore: get, append, pop-last and clear over a TTL key-value backend
// ABOUTME: Applies sanitize, retain and repair on every load and write; fails closed on store errors

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dolor/dolor-gateway/internal/history"
	"github.com/dolor/dolor-gateway/internal/kv"
	"github.com/dolor/dolor-gateway/internal/observability"
)

// DefaultKeyPrefix namespaces session records in the backing store.
const DefaultKeyPrefix = "agent-session:"

// DefaultMaxItems is the retention window when none is configured.
const DefaultMaxItems = 60

var (
	// ErrBackingStoreUnavailable wraps any failure reaching the backing store.
	ErrBackingStoreUnavailable = errors.New("session backing store unavailable")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt session record")

	// ErrInvariantViolation is returned by Validate.
	ErrInvariantViolation = history.ErrInvariantViolation
)

// Options configures a Store.
type Options struct {
	// MaxItems bounds the stored window. Zero or less keeps everything.
	MaxItems int
	// TTL expires a record after its last write. Zero means no expiry.
	TTL time.Duration
	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
	// Sanitizer defaults to one filtering history.DefaultLargeTools.
	Sanitizer *history.Sanitizer
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// record is the stored JSON shape.
type record struct {
	Items     history.Items `json:"items"`
	UpdatedAt time.Time     `json:"updatedAt"`
	TTL       *int64        `json:"ttl,omitempty"`
}

// Store persists conversation history per session id.
type Store struct {
	backend   kv.Store
	maxItems  int
	ttl       time.Duration
	prefix    string
	sanitizer *history.Sanitizer
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// New creates a Store on backend.
func New(backend kv.Store, opts Options) *Store {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.Sanitizer == nil {
		opts.Sanitizer = history.NewSanitizer(history.DefaultLargeTools...)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend:   backend,
		maxItems:  opts.MaxItems,
		ttl:       opts.TTL,
		prefix:    opts.KeyPrefix,
		sanitizer: opts.Sanitizer,
		logger:    opts.Logger.With("component", "session"),
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
}

// Key returns the backing store key for a session id.
func (s *Store) Key(sessionID string) string {
	return s.prefix + sessionID
}

// Get returns the session's history after the pipeline. An absent or
// expired record yields an empty list. Get never writes.
func (s *Store) Get(ctx context.Context, sessionID string) (items []history.Item, err error) {
	defer func() { s.metrics.RecordSessionOp("get", err) }()

	stored, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if verr := Validate(stored, s.maxItems); verr != nil {
		s.logger.Warn("stored session bypassed pipeline", "session_id", sessionID, "error", verr)
	}
	return s.pipeline(stored), nil
}

// Append adds items to the session, runs the pipeline and writes the result
// with a refreshed TTL. An empty result deletes the record.
func (s *Store) Append(ctx context.Context, sessionID string, items ...history.Item) (err error) {
	defer func() { s.metrics.RecordSessionOp("append", err) }()

	existing, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	combined := make([]history.Item, 0, len(existing)+len(items))
	combined = append(combined, existing...)
	combined = append(combined, items...)

	return s.save(ctx, sessionID, s.pipeline(combined))
}

// PopLast removes and returns the most recent item. The remainder is run
// through the pipeline again so removing a message cannot leave a dangling
// reasoning item behind. ok is false when the session is empty.
func (s *Store) PopLast(ctx context.Context, sessionID string) (last history.Item, ok bool, err error) {
	defer func() { s.metrics.RecordSessionOp("pop_last", err) }()

	stored, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	items := s.pipeline(stored)
	if len(items) == 0 {
		return nil, false, nil
	}
	last = items[len(items)-1]
	if err := s.save(ctx, sessionID, s.pipeline(items[:len(items)-1])); err != nil {
		return nil, false, err
	}
	return last, true, nil
}

// Clear deletes the session record.
func (s *Store) Clear(ctx context.Context, sessionID string) (err error) {
	defer func() { s.metrics.RecordSessionOp("clear", err) }()

	if err := s.backend.Del(ctx, s.Key(sessionID)); err != nil {
		return fmt.Errorf("%w: clearing %s: %w", ErrBackingStoreUnavailable, sessionID, err)
	}
	s.logger.Debug("session cleared", "session_id", sessionID)
	return nil
}

// Validate checks the stored-history invariants for a window of max items.
func Validate(items []history.Item, max int) error {
	return history.Check(items, max)
}

func (s *Store) pipeline(items []history.Item) []history.Item {
	retained := history.Retain(s.sanitizer.Sanitize(items), s.maxItems)
	report := history.RepairToolPairing(retained)
	if report.DroppedOrphans > 0 {
		s.metrics.AddOrphanedOutputs(report.DroppedOrphans)
	}
	return report.Items
}

func (s *Store) load(ctx context.Context, sessionID string) ([]history.Item, error) {
	raw, err := s.backend.Get(ctx, s.Key(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading %s: %w", ErrBackingStoreUnavailable, sessionID, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptRecord, sessionID, err)
	}
	return rec.Items, nil
}

func (s *Store) save(ctx context.Context, sessionID string, items []history.Item) error {
	key := s.Key(sessionID)
	if len(items) == 0 {
		if err := s.backend.Del(ctx, key); err != nil {
			return fmt.Errorf("%w: deleting %s: %w", ErrBackingStoreUnavailable, sessionID, err)
		}
		return nil
	}

	rec := record{Items: items, UpdatedAt: s.now().UTC()}
	if s.ttl > 0 {
		secs := int64(s.ttl / time.Second)
		rec.TTL = &secs
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sessionID, err)
	}
	if err := s.backend.Set(ctx, key, raw, s.ttl); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrBackingStoreUnavailable, sessionID, err)
	}
	s.metrics.ObserveSessionItems(len(items))
	return nil
}

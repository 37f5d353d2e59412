// Package journal persists per-cycle metadata of franz runs. Observation
// text never reaches the journal; only what the controller hands over in an
// agent.CycleRecord is stored.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/franz/internal/agent"
)

// Entry is one stored cycle.
type Entry struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Cycle      int           `json:"cycle"`
	ActionKind string        `json:"action_kind"`
	Status     string        `json:"status"`
	Outcome    string        `json:"outcome,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Store persists cycle entries.
type Store interface {
	agent.Journal

	// List returns the entries of a run ordered by cycle. A limit <= 0
	// returns all of them.
	List(ctx context.Context, runID string, limit int) ([]Entry, error)

	// Prune removes entries started before now minus olderThan.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)

	Close() error
}

func newEntry(rec agent.CycleRecord) Entry {
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return Entry{
		ID:         uuid.NewString(),
		RunID:      rec.RunID,
		Cycle:      rec.Cycle,
		ActionKind: string(rec.ActionKind),
		Status:     string(rec.Status),
		Outcome:    rec.Outcome,
		ErrorKind:  rec.ErrorKind,
		StartedAt:  started.UTC().Truncate(time.Millisecond),
		Duration:   rec.Duration.Truncate(time.Millisecond),
	}
}

// MemoryStore keeps entries in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore returns an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// RecordCycle appends one entry.
func (s *MemoryStore) RecordCycle(_ context.Context, rec agent.CycleRecord) error {
	e := newEntry(rec)
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return nil
}

// List returns the entries of runID in cycle order.
func (s *MemoryStore) List(_ context.Context, runID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.RunID != runID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Prune drops entries older than olderThan.
func (s *MemoryStore) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var pruned int64
	for _, e := range s.entries {
		if e.StartedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return pruned, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

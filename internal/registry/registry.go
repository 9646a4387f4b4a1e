// Package registry tracks the in-memory lifecycle of submitted variants.
package registry

import (
	"sync"
	"time"

	"github.com/inodb/vepcache/internal/store"
)

// State is the lifecycle state of a pending variant.
type State string

const (
	StateQueued         State = "queued"
	StateProcessing     State = "processing"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateRetryAvailable State = "retry_available"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Entry is the lifecycle record for one variant key. Record is set once the
// annotation has been persisted (state completed).
type Entry struct {
	Key            string
	State          State
	Attempts       int
	Reason         string
	FirstEnqueued  time.Time
	LastTransition time.Time
	Record         *store.Annotation
}

// Registry is a mutex-guarded map of pending entries. There is never more
// than one entry per variant key; concurrent submissions coalesce.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// InsertIfAbsent creates a queued entry for the key, carrying a prior attempt
// count on resubmission. Returns the entry (a copy) and whether it was
// inserted; when false, the existing entry is returned unchanged.
func (r *Registry) InsertIfAbsent(key string, attempts int) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return *e, false
	}

	now := r.now()
	e := &Entry{
		Key:            key,
		State:          StateQueued,
		Attempts:       attempts,
		FirstEnqueued:  now,
		LastTransition: now,
	}
	r.entries[key] = e
	return *e, true
}

// Get returns a copy of the entry for the key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Transition moves the entry to a new state. Returns false when no entry
// exists for the key.
func (r *Registry) Transition(key string, state State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.State = state
	e.LastTransition = r.now()
	return true
}

// Complete marks the entry completed and attaches the persisted record.
func (r *Registry) Complete(key string, record *store.Annotation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.State = StateCompleted
	e.Record = record
	e.Reason = ""
	e.LastTransition = r.now()
	return true
}

// Fail marks the entry terminally failed with a reason.
func (r *Registry) Fail(key, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.State = StateFailed
	e.Reason = reason
	e.LastTransition = r.now()
	return true
}

// RetryableFailure increments the attempt count and moves the entry to
// retry_available while attempts remain, failed otherwise. Returns the
// updated entry.
func (r *Registry) RetryableFailure(key, reason string, maxRetries int) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return Entry{}, false
	}
	e.Attempts++
	e.Reason = reason
	if e.Attempts < maxRetries {
		e.State = StateRetryAvailable
	} else {
		e.State = StateFailed
	}
	e.LastTransition = r.now()
	return *e, true
}

// ReplaceRetryAvailable atomically swaps a retry_available entry for a fresh
// queued one carrying the consumed attempts forward. Returns false when the
// key is absent or in any other state, so of several concurrent resubmissions
// exactly one obtains the queued entry.
func (r *Registry) ReplaceRetryAvailable(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.entries[key]
	if !ok || old.State != StateRetryAvailable {
		return Entry{}, false
	}

	now := r.now()
	e := &Entry{
		Key:            key,
		State:          StateQueued,
		Attempts:       old.Attempts,
		FirstEnqueued:  now,
		LastTransition: now,
	}
	r.entries[key] = e
	return *e, true
}

// Remove deletes the entry for the key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// SweepTerminal evicts completed and failed entries whose last transition is
// older than the retention window. Returns the number evicted.
func (r *Registry) SweepTerminal(olderThan time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-olderThan)
	evicted := 0
	for key, e := range r.entries {
		if e.State.Terminal() && e.LastTransition.Before(cutoff) {
			delete(r.entries, key)
			evicted++
		}
	}
	return evicted
}

// Counts returns the number of entries per state.
func (r *Registry) Counts() map[State]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[State]int)
	for _, e := range r.entries {
		counts[e.State]++
	}
	return counts
}

// Len returns the total number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

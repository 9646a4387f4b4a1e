// Package service is the submission façade between the request surface and
// the batch processor: cache short-circuit, pending coalescing, enqueue.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/inodb/vepcache/internal/registry"
	"github.com/inodb/vepcache/internal/store"
	"github.com/inodb/vepcache/internal/telemetry"
	"github.com/inodb/vepcache/internal/variant"
)

// Submission outcomes for well-formed variants.
const (
	OutcomeCached         = "cached"
	OutcomeAccepted       = "accepted"
	OutcomeAlreadyPending = "already_pending"
)

// Poll statuses. Queued entries report as processing: the distinction is an
// internal scheduling detail pollers cannot act on.
const (
	StatusProcessing     = "processing"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusRetryAvailable = "retry_available"
	StatusNotFound       = "not_found"
)

var (
	// ErrInvalidInput marks a malformed variant; surfaced synchronously.
	ErrInvalidInput = errors.New("invalid variant")
	// ErrUnavailable marks an unreachable store or a stopping processor.
	ErrUnavailable = errors.New("service unavailable")
)

// Cache is the slice of the annotation store the façade reads from.
type Cache interface {
	GetAnnotation(ctx context.Context, variantKey string) (*store.Annotation, error)
	Statistics(ctx context.Context) (*store.Statistics, error)
	Ping(ctx context.Context) error
}

// Batcher is the slice of the processor the façade submits to.
type Batcher interface {
	Enqueue(v variant.Variant) error
	Running() bool
	QueueDepth() int
}

// SubmitResult is the synchronous answer to a submission.
type SubmitResult struct {
	Outcome    string
	VariantKey string
	Record     *store.Annotation // set when Outcome is cached
	Attempts   int
}

// PollResult is the lifecycle snapshot for one variant key.
type PollResult struct {
	Status   string
	Record   *store.Annotation // set when Status is completed
	Attempts int
	Reason   string
}

// Statistics merges persistent cache counts with the live pipeline state.
type Statistics struct {
	Cache      *store.Statistics      `json:"cache"`
	Pending    map[registry.State]int `json:"pending"`
	QueueDepth int                    `json:"queue_depth"`
}

// Service wires the cache, the registry, and the batch processor together.
type Service struct {
	cache  Cache
	proc   Batcher
	reg    *registry.Registry
	logger *zap.Logger
}

// New creates the façade.
func New(cache Cache, proc Batcher, reg *registry.Registry) *Service {
	return &Service{
		cache:  cache,
		proc:   proc,
		reg:    reg,
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger for submission diagnostics.
func (s *Service) SetLogger(l *zap.Logger) {
	s.logger = l
}

// Submit runs the cache-then-registry-then-queue path for one variant.
// Idempotent with respect to in-flight work: concurrent submissions of the
// same key coalesce onto one pending entry and one batch slot.
func (s *Service) Submit(ctx context.Context, chrom string, pos int64, ref, alt string) (SubmitResult, error) {
	v, err := variant.New(chrom, pos, ref, alt)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key := v.Key()

	record, err := s.cache.GetAnnotation(ctx, key)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: cache lookup: %v", ErrUnavailable, err)
	}
	if record != nil {
		telemetry.CacheHits.Inc()
		return SubmitResult{Outcome: OutcomeCached, VariantKey: key, Record: record}, nil
	}

	entry, inserted := s.reg.InsertIfAbsent(key, 0)
	if !inserted {
		if entry.State != registry.StateRetryAvailable {
			return SubmitResult{Outcome: OutcomeAlreadyPending, VariantKey: key, Attempts: entry.Attempts}, nil
		}
		// Explicit resubmission: swap the retry_available entry for a fresh
		// queued one in a single registry operation, so concurrent
		// resubmitters of the same key cannot each claim a batch slot.
		replaced, ok := s.reg.ReplaceRetryAvailable(key)
		if !ok {
			return SubmitResult{Outcome: OutcomeAlreadyPending, VariantKey: key, Attempts: entry.Attempts}, nil
		}
		entry = replaced
	}

	if err := s.proc.Enqueue(v); err != nil {
		// No partial state on error.
		s.reg.Remove(key)
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Debug("variant accepted",
		zap.String("variant", key), zap.Int("attempts", entry.Attempts))
	return SubmitResult{Outcome: OutcomeAccepted, VariantKey: key, Attempts: entry.Attempts}, nil
}

// Poll reports the lifecycle state for a variant key. Keys absent from the
// registry fall back to the cache, so terminal entries evicted by the sweep
// still poll as completed.
func (s *Service) Poll(ctx context.Context, key string) (PollResult, error) {
	if _, err := variant.ParseKey(key); err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if e, ok := s.reg.Get(key); ok {
		switch e.State {
		case registry.StateCompleted:
			return PollResult{Status: StatusCompleted, Record: e.Record, Attempts: e.Attempts}, nil
		case registry.StateFailed:
			return PollResult{Status: StatusFailed, Attempts: e.Attempts, Reason: e.Reason}, nil
		case registry.StateRetryAvailable:
			return PollResult{Status: StatusRetryAvailable, Attempts: e.Attempts, Reason: e.Reason}, nil
		default:
			return PollResult{Status: StatusProcessing, Attempts: e.Attempts}, nil
		}
	}

	record, err := s.cache.GetAnnotation(ctx, key)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: cache lookup: %v", ErrUnavailable, err)
	}
	if record != nil {
		return PollResult{Status: StatusCompleted, Record: record}, nil
	}
	return PollResult{Status: StatusNotFound}, nil
}

// Statistics aggregates cache counts and the live registry/queue state.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	cacheStats, err := s.cache.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache statistics: %w", err)
	}
	return &Statistics{
		Cache:      cacheStats,
		Pending:    s.reg.Counts(),
		QueueDepth: s.proc.QueueDepth(),
	}, nil
}

// Healthy reports nil when the store is reachable and the processor accepts
// submissions.
func (s *Service) Healthy(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if !s.proc.Running() {
		return errors.New("batch processor not running")
	}
	return nil
}

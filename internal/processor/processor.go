// Package processor implements the asynchronous batching core: the queue,
// the flush trigger, the worker pool, and the per-batch annotation pipeline.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/vepcache/internal/mlscore"
	"github.com/inodb/vepcache/internal/registry"
	"github.com/inodb/vepcache/internal/store"
	"github.com/inodb/vepcache/internal/telemetry"
	"github.com/inodb/vepcache/internal/variant"
	"github.com/inodb/vepcache/internal/vep"
)

// Failure reasons surfaced through the registry. Per-variant parse failures
// use vep.ReasonNoAnnotation.
const (
	ReasonTransientUpstream = "transient_upstream"
	ReasonPersistError      = "persist_error"
)

// ErrShuttingDown is returned for submissions arriving after Stop has begun.
var ErrShuttingDown = errors.New("batch processor is shutting down")

// Annotator is the outbound batch annotation contract.
type Annotator interface {
	Annotate(ctx context.Context, variants []variant.Variant) ([]vep.Result, error)
}

// BatchStore is the slice of the cache store the pipeline writes through.
type BatchStore interface {
	WriteBatch(ctx context.Context, records []*store.Annotation) error
}

// Config holds the batching knobs. Zero values fall back to defaults.
type Config struct {
	MaxBatchSize      int           // flush as soon as this many variants queue up (default 200)
	MaxWait           time.Duration // flush after the oldest entry waited this long (default 5s)
	MaxWorkers        int           // concurrent in-flight batches (default 3)
	MaxRetries        int           // attempts before failed is terminal (default 3)
	TerminalRetention time.Duration // how long completed/failed entries stay pollable (default 10s)
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 200
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 5 * time.Second
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = 10 * time.Second
	}
	return c
}

// queued is one FIFO queue slot.
type queued struct {
	v        variant.Variant
	enqueued time.Time
}

// Processor owns the queue and the worker pool. Lifecycle: New, Start,
// Enqueue from any goroutine, Stop (drains the queue into final batches).
type Processor struct {
	cfg    Config
	client Annotator
	store  BatchStore
	scorer mlscore.Scorer // nil means degraded mode: score stays null
	reg    *registry.Registry
	logger *zap.Logger

	mu     sync.Mutex
	queue  []queued
	closed bool

	kick      chan struct{}
	batches   chan []queued
	stop      chan struct{}
	dispDone  chan struct{}
	sweepDone chan struct{}
	workers   sync.WaitGroup
	started   bool
}

// New creates a processor. The scorer may be nil (missing model artifact);
// annotations are then persisted with a null pathogenicity score.
func New(cfg Config, client Annotator, st BatchStore, scorer mlscore.Scorer, reg *registry.Registry) *Processor {
	return &Processor{
		cfg:       cfg.withDefaults(),
		client:    client,
		store:     st,
		scorer:    scorer,
		reg:       reg,
		logger:    zap.NewNop(),
		kick:      make(chan struct{}, 1),
		batches:   make(chan []queued),
		stop:      make(chan struct{}),
		dispDone:  make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// SetLogger sets the logger for pipeline diagnostics.
func (p *Processor) SetLogger(l *zap.Logger) {
	p.logger = l
}

// Start launches the dispatcher, the worker pool, and the terminal sweeper.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.dispatch()
	go p.sweep()
	p.workers.Add(p.cfg.MaxWorkers)
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		go p.worker(i)
	}
}

// Stop drains the queue into final (possibly under-sized) batches, waits for
// all in-flight batches to finish, and shuts the pool down. Submissions
// arriving after Stop has begun are rejected with ErrShuttingDown.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	depth := len(p.queue)
	p.mu.Unlock()
	if !started {
		return
	}

	p.logger.Info("batch processor stopping", zap.Int("queued", depth))
	close(p.stop)
	<-p.dispDone
	p.workers.Wait()
	<-p.sweepDone
	p.logger.Info("batch processor stopped")
}

// Running reports whether the processor accepts submissions.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.closed
}

// QueueDepth returns the number of variants awaiting dispatch.
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Enqueue appends a variant to the FIFO queue. The caller must already hold
// a queued registry entry for the key; the processor never sees duplicates.
func (p *Processor) Enqueue(v variant.Variant) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	p.queue = append(p.queue, queued{v: v, enqueued: time.Now()})
	telemetry.QueueDepth.Set(float64(len(p.queue)))
	p.mu.Unlock()

	select {
	case p.kick <- struct{}{}:
	default:
	}
	return nil
}

// queueState returns (depth, age of the oldest entry).
func (p *Processor) queueState() (int, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return 0, time.Time{}
	}
	return len(p.queue), p.queue[0].enqueued
}

// takeBatch drains up to MaxBatchSize entries in FIFO order.
func (p *Processor) takeBatch() []queued {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.queue)
	if n == 0 {
		return nil
	}
	if n > p.cfg.MaxBatchSize {
		n = p.cfg.MaxBatchSize
	}
	batch := make([]queued, n)
	copy(batch, p.queue[:n])
	p.queue = append(p.queue[:0], p.queue[n:]...)
	telemetry.QueueDepth.Set(float64(len(p.queue)))
	return batch
}

// dispatch is the single flush-trigger loop. It races the size threshold
// (kick) against a timer armed from the oldest queued entry, and hands
// formed batches to the worker pool. While a handoff blocks on saturated
// workers, submissions keep accumulating the next batch.
func (p *Processor) dispatch() {
	defer close(p.dispDone)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		select {
		case <-p.kick:
		case <-timer.C:
		case <-p.stop:
			for {
				batch := p.takeBatch()
				if len(batch) == 0 {
					break
				}
				p.handOff(batch)
			}
			close(p.batches)
			return
		}

		for {
			depth, oldest := p.queueState()
			if depth == 0 {
				break
			}
			if depth >= p.cfg.MaxBatchSize || time.Since(oldest) >= p.cfg.MaxWait {
				p.handOff(p.takeBatch())
				continue
			}
			timer.Reset(time.Until(oldest.Add(p.cfg.MaxWait)))
			break
		}
	}
}

func (p *Processor) handOff(batch []queued) {
	if len(batch) == 0 {
		return
	}
	telemetry.BatchesDispatched.Inc()
	telemetry.BatchSize.Observe(float64(len(batch)))
	p.batches <- batch
}

func (p *Processor) worker(id int) {
	defer p.workers.Done()
	for batch := range p.batches {
		p.processBatch(id, batch)
	}
}

// sweep periodically evicts terminal entries past the retention window.
func (p *Processor) sweep() {
	defer close(p.sweepDone)

	interval := p.cfg.TerminalRetention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := p.reg.SweepTerminal(p.cfg.TerminalRetention); n > 0 {
				p.logger.Debug("swept terminal entries", zap.Int("evicted", n))
			}
		case <-p.stop:
			return
		}
	}
}

// processBatch runs the per-batch pipeline:
// mark -> call VEP -> parse -> score -> persist -> publish.
func (p *Processor) processBatch(workerID int, batch []queued) {
	keys := make([]string, len(batch))
	variants := make([]variant.Variant, len(batch))
	for i, q := range batch {
		keys[i] = q.v.Key()
		variants[i] = q.v
		p.reg.Transition(keys[i], registry.StateProcessing)
	}

	log := p.logger.With(zap.Int("worker", workerID), zap.Int("batch_size", len(batch)))
	log.Info("processing batch")

	results, err := p.client.Annotate(context.Background(), variants)
	if err != nil {
		telemetry.VEPErrors.Inc()
		log.Warn("VEP batch failed", zap.Error(err))
		p.failTransient(keys, ReasonTransientUpstream)
		return
	}

	parsed, failures := vep.Parse(results, keys)
	for key, reason := range failures {
		p.reg.Fail(key, reason)
		telemetry.VariantsFailed.WithLabelValues(reason).Inc()
	}

	// The transaction includes only the variants that parsed cleanly; one
	// unusable response entry must not poison the batch.
	records := make([]*store.Annotation, 0, len(parsed))
	persistedKeys := make([]string, 0, len(parsed))
	for _, key := range keys {
		a, ok := parsed[key]
		if !ok {
			continue
		}
		p.attachScore(a)
		records = append(records, a)
		persistedKeys = append(persistedKeys, key)
	}

	if len(records) == 0 {
		log.Warn("no usable annotations in batch", zap.Int("failures", len(failures)))
		return
	}

	if err := p.store.WriteBatch(context.Background(), records); err != nil {
		log.Error("batch persist failed", zap.Error(err))
		p.failTransient(persistedKeys, ReasonPersistError)
		return
	}

	for i, key := range persistedKeys {
		p.reg.Complete(key, records[i])
		telemetry.VariantsCompleted.Inc()
	}
	log.Info("batch completed",
		zap.Int("persisted", len(records)),
		zap.Int("failed", len(failures)))
}

// attachScore computes the pathogenicity score for a record. A missing or
// failing scorer leaves the score null, never zero.
func (p *Processor) attachScore(a *store.Annotation) {
	if p.scorer == nil {
		return
	}
	score, err := p.scorer.Score(mlscore.FromRecord(a))
	if err != nil {
		p.logger.Warn("scorer failed, leaving score null",
			zap.String("variant", a.VariantKey), zap.Error(err))
		return
	}
	a.MLScore = &score
}

// failTransient records one consumed attempt for every key in a whole-batch
// failure. Entries move to retry_available while attempts remain.
func (p *Processor) failTransient(keys []string, reason string) {
	for _, key := range keys {
		if e, ok := p.reg.RetryableFailure(key, reason, p.cfg.MaxRetries); ok {
			telemetry.VariantsFailed.WithLabelValues(reason).Inc()
			p.logger.Debug("variant attempt failed",
				zap.String("variant", key),
				zap.String("reason", reason),
				zap.Int("attempts", e.Attempts),
				zap.String("state", string(e.State)))
		}
	}
}

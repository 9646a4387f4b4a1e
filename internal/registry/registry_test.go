package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vepcache/internal/store"
)

func TestInsertIfAbsent_Coalesces(t *testing.T) {
	r := New()

	e, inserted := r.InsertIfAbsent("1:100:A>G", 0)
	require.True(t, inserted)
	assert.Equal(t, StateQueued, e.State)
	assert.Equal(t, 0, e.Attempts)

	e2, inserted := r.InsertIfAbsent("1:100:A>G", 0)
	assert.False(t, inserted)
	assert.Equal(t, e.FirstEnqueued, e2.FirstEnqueued)
	assert.Equal(t, 1, r.Len())
}

func TestInsertIfAbsent_Concurrent(t *testing.T) {
	r := New()

	const n = 50
	var wg sync.WaitGroup
	inserts := make(chan bool, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted := r.InsertIfAbsent("1:100:A>G", 0)
			inserts <- inserted
		}()
	}
	wg.Wait()
	close(inserts)

	wins := 0
	for ok := range inserts {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent submission must win")
	assert.Equal(t, 1, r.Len())
}

func TestLifecycleTransitions(t *testing.T) {
	r := New()
	key := "7:140753336:A>T"

	r.InsertIfAbsent(key, 0)
	require.True(t, r.Transition(key, StateProcessing))

	record := &store.Annotation{VariantKey: key, Gene: "BRAF"}
	require.True(t, r.Complete(key, record))

	e, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, e.State)
	require.NotNil(t, e.Record)
	assert.Equal(t, "BRAF", e.Record.Gene)

	assert.False(t, r.Transition("unknown", StateProcessing))
}

func TestRetryableFailure_AttemptBounds(t *testing.T) {
	r := New()
	key := "1:100:A>T"
	r.InsertIfAbsent(key, 0)

	e, ok := r.RetryableFailure(key, "transient_upstream", 3)
	require.True(t, ok)
	assert.Equal(t, StateRetryAvailable, e.State)
	assert.Equal(t, 1, e.Attempts)

	e, _ = r.RetryableFailure(key, "transient_upstream", 3)
	assert.Equal(t, StateRetryAvailable, e.State)
	assert.Equal(t, 2, e.Attempts)

	e, _ = r.RetryableFailure(key, "transient_upstream", 3)
	assert.Equal(t, StateFailed, e.State)
	assert.Equal(t, 3, e.Attempts)
	assert.Equal(t, "transient_upstream", e.Reason)
}

func TestReplaceRetryAvailable(t *testing.T) {
	r := New()
	key := "1:100:A>T"

	r.InsertIfAbsent(key, 0)
	e, _ := r.RetryableFailure(key, "transient_upstream", 3)
	require.Equal(t, StateRetryAvailable, e.State)

	e, ok := r.ReplaceRetryAvailable(key)
	require.True(t, ok)
	assert.Equal(t, StateQueued, e.State)
	assert.Equal(t, 1, e.Attempts, "attempt count carries forward")
	assert.Empty(t, e.Reason)
	assert.Equal(t, 1, r.Len())
}

func TestReplaceRetryAvailable_WrongState(t *testing.T) {
	r := New()

	_, ok := r.ReplaceRetryAvailable("missing")
	assert.False(t, ok)

	r.InsertIfAbsent("queued", 0)
	_, ok = r.ReplaceRetryAvailable("queued")
	assert.False(t, ok, "a queued entry must not be replaced")

	r.InsertIfAbsent("done", 0)
	r.Complete("done", nil)
	_, ok = r.ReplaceRetryAvailable("done")
	assert.False(t, ok, "a completed entry must not be replaced")
}

func TestReplaceRetryAvailable_Concurrent(t *testing.T) {
	r := New()
	key := "1:100:A>T"
	r.InsertIfAbsent(key, 0)
	r.RetryableFailure(key, "transient_upstream", 3)

	const n = 50
	var wg sync.WaitGroup
	swaps := make(chan bool, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := r.ReplaceRetryAvailable(key)
			swaps <- ok
		}()
	}
	wg.Wait()
	close(swaps)

	wins := 0
	for ok := range swaps {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one resubmitter must obtain the queued entry")

	e, ok := r.Get(key)
	require.True(t, ok)
	assert.Equal(t, StateQueued, e.State)
	assert.Equal(t, 1, e.Attempts)
}

func TestSweepTerminal(t *testing.T) {
	r := New()
	base := time.Now()
	r.now = func() time.Time { return base }

	r.InsertIfAbsent("done", 0)
	r.Complete("done", nil)
	r.InsertIfAbsent("dead", 0)
	r.Fail("dead", "no_annotation_returned")
	r.InsertIfAbsent("waiting", 0)

	// Nothing old enough yet.
	assert.Equal(t, 0, r.SweepTerminal(10*time.Second))
	assert.Equal(t, 3, r.Len())

	r.now = func() time.Time { return base.Add(11 * time.Second) }
	assert.Equal(t, 2, r.SweepTerminal(10*time.Second))
	assert.Equal(t, 1, r.Len())

	_, ok := r.Get("waiting")
	assert.True(t, ok, "non-terminal entries survive the sweep")
}

func TestCounts(t *testing.T) {
	r := New()
	r.InsertIfAbsent("a", 0)
	r.InsertIfAbsent("b", 0)
	r.Transition("b", StateProcessing)
	r.InsertIfAbsent("c", 0)
	r.Complete("c", nil)

	counts := r.Counts()
	assert.Equal(t, 1, counts[StateQueued])
	assert.Equal(t, 1, counts[StateProcessing])
	assert.Equal(t, 1, counts[StateCompleted])
}

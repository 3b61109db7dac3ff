/*
 *
 * Copyright 2025 the Ultimate Squash Game authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/internal/ring"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/storage"
)

func newTestHandle(t *testing.T, cfg Config, store storage.Store) *Handle {
	t.Helper()
	if cfg.SegmentName == "" {
		cfg.SegmentName = fmt.Sprintf("t-%d", time.Now().UnixNano())
	}
	h, err := Initialize(cfg, zaptest.NewLogger(t), store)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})
	return h
}

func TestInitializeValidation(t *testing.T) {
	_, err := Initialize(Config{}, nil, nil)
	assert.Error(t, err, "nil store must be rejected")

	_, err = Initialize(Config{Capacity: 16, OverflowMargin: 16, ForceFallback: true},
		nil, storage.NewMemory())
	assert.Error(t, err, "margin at or above capacity must be rejected")

	_, err = Initialize(Config{Capacity: 16, BatchSize: 64, ForceFallback: true},
		nil, storage.NewMemory())
	assert.Error(t, err, "batch size above capacity must be rejected")
}

// Worked example: capacity 4, margin 1. Four writes cross the
// low-water mark, the flush empties the buffer, and the four entries
// arrive downstream in write order.
func TestWorkedExampleCapacityFour(t *testing.T) {
	store := storage.NewMemory()
	h := newTestHandle(t, Config{
		Capacity:       16, // ring floor; the fallback queue carries the example cap
		QueueCapacity:  4,
		OverflowMargin: 1,
		BatchSize:      4,
		DrainInterval:  time.Hour, // only flush wakes drive the drain
		ForceFallback:  true,
	}, store)

	sessionID := h.StartSession(nil)

	h.RecordMetric(metrics.MetricFPS, 60.0)
	h.RecordMetric(metrics.MetricFPS, 58.0)
	h.RecordMetric(metrics.MetricMemoryUsed, 120.5)
	h.RecordMetric(metrics.MetricFPS, 59.0)
	h.RequestFlush() // don't rely on overflow wake timing for the tail

	require.Eventually(t, func() bool {
		return len(store.SessionEntries(sessionID)) == 4
	}, 5*time.Second, 5*time.Millisecond)

	entries := store.SessionEntries(sessionID)
	wantValues := []float32{60.0, 58.0, 120.5, 59.0}
	for i, want := range wantValues {
		assert.Equal(t, want, entries[i].Value, "entry %d out of order", i)
	}
	assert.Equal(t, metrics.MetricMemoryUsed, entries[2].Type)

	d := h.Diagnostics()
	assert.Equal(t, uint64(4), d.Writes)
	assert.GreaterOrEqual(t, d.OverflowCount, uint64(1), "crossing the margin must count as overflow")

	require.Eventually(t, func() bool {
		return !h.tr.flushRequested() && h.tr.occupancy() == 0
	}, 5*time.Second, 5*time.Millisecond, "flush flag must clear once caught up")
}

func TestSharedMemoryModeDelivers(t *testing.T) {
	if !ring.Supported() {
		t.Skip("shared memory transport not supported on this platform")
	}

	store := storage.NewMemory()
	h := newTestHandle(t, Config{
		Capacity:       64,
		OverflowMargin: 8,
		DrainInterval:  5 * time.Millisecond,
		BatchSize:      32,
	}, store)
	require.Equal(t, ModeSharedMemory, h.Mode())

	sessionID := h.StartSession(map[string]string{"run": "shm"})
	const n = 40
	for i := 0; i < n; i++ {
		h.RecordMetric(metrics.MetricFrameTime, float32(i), metrics.CategoryRendering)
	}

	require.Eventually(t, func() bool {
		return len(store.SessionEntries(sessionID)) == n
	}, 5*time.Second, 5*time.Millisecond)

	entries := store.SessionEntries(sessionID)
	for i, e := range entries {
		assert.Equal(t, float32(i), e.Value, "entry %d out of order", i)
		assert.Equal(t, uint64(i), e.SlotIndex)
		assert.Equal(t, uint32(i), e.Sequence)
		assert.Equal(t, metrics.CategoryRendering, e.Category)
	}
}

func TestRecordWithoutSessionIsNoop(t *testing.T) {
	store := storage.NewMemory()
	h := newTestHandle(t, Config{ForceFallback: true, DrainInterval: 5 * time.Millisecond}, store)

	h.RecordMetric(metrics.MetricFPS, 60.0)
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, store.Entries())
	assert.Equal(t, uint64(0), h.Diagnostics().Writes)
}

func TestRecordAfterStopIsNoop(t *testing.T) {
	store := storage.NewMemory()
	h := newTestHandle(t, Config{ForceFallback: true, DrainInterval: 5 * time.Millisecond}, store)

	sessionID := h.StartSession(nil)
	h.RecordMetric(metrics.MetricFPS, 60.0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))

	before := len(store.SessionEntries(sessionID))
	h.RecordMetric(metrics.MetricFPS, 61.0)
	assert.Equal(t, before, len(store.SessionEntries(sessionID)))
}

func TestStopPerformsFinalDrain(t *testing.T) {
	store := storage.NewMemory()
	h := newTestHandle(t, Config{
		Capacity:       64,
		OverflowMargin: 10,
		DrainInterval:  time.Hour, // nothing drains until shutdown forces it
		ForceFallback:  true,
	}, store)

	sessionID := h.StartSession(nil)
	for i := 0; i < 5; i++ {
		h.RecordMetric(metrics.MetricFrameTime, float32(i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))

	entries := store.SessionEntries(sessionID)
	require.Len(t, entries, 5, "shutdown must run one final unconditional drain")

	// Stop is idempotent once closed.
	require.NoError(t, h.Stop(ctx))
}

// failingStore fails the first N appends, then delegates.
type failingStore struct {
	*storage.Memory
	failures int
	calls    int
}

func (f *failingStore) AppendBatch(ctx context.Context, sessionID string, entries []metrics.Entry) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return storage.ErrInjectedFailure
	}
	return f.Memory.AppendBatch(ctx, sessionID, entries)
}

func TestPersistenceFailureRetriesSameBatch(t *testing.T) {
	store := &failingStore{Memory: storage.NewMemory(), failures: 2}
	h := newTestHandle(t, Config{
		ForceFallback: true,
		DrainInterval: 5 * time.Millisecond,
	}, store)

	sessionID := h.StartSession(nil)
	for i := 0; i < 7; i++ {
		h.RecordMetric(metrics.MetricFrameTime, float32(i))
	}

	require.Eventually(t, func() bool {
		return len(store.SessionEntries(sessionID)) == 7
	}, 5*time.Second, 5*time.Millisecond, "failed batches must be retried until accepted")

	entries := store.SessionEntries(sessionID)
	seen := map[uint64]bool{}
	for _, e := range entries {
		assert.False(t, seen[e.SlotIndex], "slot %d delivered twice", e.SlotIndex)
		seen[e.SlotIndex] = true
	}
	assert.GreaterOrEqual(t, store.calls, 3, "expected retries after injected failures")
}

// gateStore blocks its first append until released.
type gateStore struct {
	*storage.Memory
	entered chan struct{}
	release chan struct{}
	gated   bool
}

func (g *gateStore) AppendBatch(ctx context.Context, sessionID string, entries []metrics.Entry) error {
	if !g.gated {
		g.gated = true
		close(g.entered)
		<-g.release
	}
	return g.Memory.AppendBatch(ctx, sessionID, entries)
}

func TestFallbackQueueCountsDropsAsLoss(t *testing.T) {
	store := &gateStore{
		Memory:  storage.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newTestHandle(t, Config{
		ForceFallback:  true,
		Capacity:       16,
		QueueCapacity:  4,
		OverflowMargin: 1,
		BatchSize:      4,
		DrainInterval:  time.Millisecond,
	}, store)

	h.StartSession(nil)

	// Fill until the consumer is stuck inside the persist call.
	for i := 0; i < 4; i++ {
		h.RecordMetric(metrics.MetricFrameTime, float32(i))
	}
	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never reached the sink")
	}

	// With the consumer blocked, the pending cap must reject writes.
	for i := 4; i < 12; i++ {
		h.RecordMetric(metrics.MetricFrameTime, float32(i))
	}
	close(store.release)

	require.Eventually(t, func() bool {
		d := h.Diagnostics()
		return d.DataLoss > 0 && uint64(len(store.Entries()))+d.DataLoss == 12
	}, 5*time.Second, 5*time.Millisecond,
		"dropped samples must be counted as loss, delivered+lost must cover all writes")
}

func TestStopTimeout(t *testing.T) {
	store := &gateStore{
		Memory:  storage.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}), // never released: sink hangs forever
	}
	h, err := Initialize(Config{
		ForceFallback: true,
		DrainInterval: time.Millisecond,
	}, zaptest.NewLogger(t), store)
	require.NoError(t, err)

	h.StartSession(nil)
	h.RecordMetric(metrics.MetricFPS, 60.0)
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Stop(ctx), ErrShutdownTimeout)
}

func TestFallbackEquivalence(t *testing.T) {
	type key struct {
		t metrics.MetricType
		v float32
		c metrics.Category
	}

	run := func(forceFallback bool) map[key]int {
		store := storage.NewMemory()
		h := newTestHandle(t, Config{
			Capacity:       128,
			OverflowMargin: 16,
			DrainInterval:  5 * time.Millisecond,
			ForceFallback:  forceFallback,
			SegmentName:    fmt.Sprintf("equiv-%v-%d", forceFallback, time.Now().UnixNano()),
		}, store)
		sessionID := h.StartSession(nil)

		for i := 0; i < 50; i++ {
			h.RecordMetric(metrics.MetricFrameTime, float32(i%7), metrics.CategoryGameplay)
			h.RecordMetric(metrics.MetricMemoryUsed, float32(i%3), metrics.CategoryUI)
		}

		require.Eventually(t, func() bool {
			return len(store.SessionEntries(sessionID)) == 100
		}, 5*time.Second, 5*time.Millisecond)

		got := map[key]int{}
		for _, e := range store.SessionEntries(sessionID) {
			got[key{e.Type, e.Value, e.Category}]++
		}
		return got
	}

	fallback := run(true)
	if !ring.Supported() {
		t.Skip("shared memory transport not supported on this platform; fallback-only run done")
	}
	shm := run(false)

	assert.Equal(t, shm, fallback,
		"both modes must deliver the same multiset of samples")
}

func TestDiagnosticsSnapshot(t *testing.T) {
	store := storage.NewMemory()
	h := newTestHandle(t, Config{
		ForceFallback: true,
		DrainInterval: 5 * time.Millisecond,
	}, store)

	d := h.Diagnostics()
	assert.Equal(t, ModeFallback, d.Mode)
	assert.Empty(t, d.SessionID)

	sessionID := h.StartSession(nil)
	for i := 0; i < 20; i++ {
		h.RecordMetric(metrics.MetricFrameTime, 4.2)
	}

	d = h.Diagnostics()
	assert.Equal(t, sessionID, d.SessionID)
	assert.Equal(t, uint64(20), d.Writes)
	assert.Equal(t, uint64(0), d.AtomicCASFailures)
	assert.Greater(t, d.AverageWriteLatency, time.Duration(0))
	assert.LessOrEqual(t, d.BufferUtilizationPct, 100.0)
}

func TestQueryReadsMirror(t *testing.T) {
	store := storage.NewMemory()
	h := newTestHandle(t, Config{
		ForceFallback: true,
		DrainInterval: 5 * time.Millisecond,
		MirrorDepth:   4,
	}, store)

	h.StartSession(nil)
	for i := 1; i <= 6; i++ {
		h.RecordMetric(metrics.MetricFPS, float32(i*10))
	}

	// Mirror readback is synchronous with the producer.
	assert.Equal(t, []float32{50, 60}, h.Query(metrics.MetricFPS, 2))
	assert.Equal(t, []float32{30, 40, 50, 60}, h.Query(metrics.MetricFPS, 10),
		"depth bounds the readback window")
	assert.Nil(t, h.Query(metrics.MetricMemoryUsed, 3))
}

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

// Package telemetry is the in-process performance collector for the
// game loop. A producer records samples through a non-blocking call;
// a background drain goroutine batches them and hands them to a
// durable-storage collaborator.
//
// The transport between the two is a shared-memory slot ring with
// atomic cursors. When shared memory or the wait primitives are
// unavailable, construction degrades to a channel-backed fallback with
// the identical public surface; the selection is permanent for the
// handle's lifetime and invisible to call sites.
//
// Recording is best-effort: no user-facing failure ever results from a
// metric call, only diagnostic counters change.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/internal/queue"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/internal/ring"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/storage"
)

// Mode identifies which transport backs a handle.
type Mode int

const (
	// ModeSharedMemory is the mmap'd slot ring.
	ModeSharedMemory Mode = iota

	// ModeFallback is the channel-backed queue.
	ModeFallback
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSharedMemory:
		return "shared_memory"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

var (
	// ErrShutdownTimeout is returned by Stop when the consumer did not
	// reach its closed state before the context deadline. The caller
	// decides whether to abandon the drain goroutine.
	ErrShutdownTimeout = errors.New("telemetry: shutdown timed out")

	errNilStore = errors.New("telemetry: nil storage collaborator")
)

// Config tunes the collector. Zero values take documented defaults.
// The overflow margin and drain interval are empirically chosen knobs,
// not derived constants; tune them per workload.
type Config struct {
	// Capacity is the ring capacity in slots, rounded up to a power
	// of two. Default 4096.
	Capacity int

	// OverflowMargin is the low-water mark in slots: occupancy at or
	// above capacity-margin signals a flush. Default 10.
	OverflowMargin int

	// DrainInterval is the consumer's wake period. Default 10ms.
	DrainInterval time.Duration

	// BatchSize is the maximum entries per storage hand-off.
	// Default 256.
	BatchSize int

	// QueueCapacity is the fallback transport's pending cap.
	// Defaults to Capacity.
	QueueCapacity int

	// MirrorDepth is the per-metric depth of the local readback
	// mirror. Default 64.
	MirrorDepth int

	// SegmentName names the shared memory segment. Defaults to a
	// per-process unique name.
	SegmentName string

	// ForceFallback skips the shared-memory probe. Used by tests and
	// comparative benchmarks.
	ForceFallback bool
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = int(ring.DefaultSlots)
	}
	if c.OverflowMargin <= 0 {
		c.OverflowMargin = 10
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 10 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = c.Capacity
	}
	if c.MirrorDepth <= 0 {
		c.MirrorDepth = 64
	}
	if c.SegmentName == "" {
		c.SegmentName = fmt.Sprintf("collector-%d-%d", os.Getpid(), time.Now().UnixNano())
	}
	return c
}

func (c Config) validate() error {
	if c.OverflowMargin >= c.Capacity {
		return fmt.Errorf("telemetry: overflow margin %d must be below capacity %d", c.OverflowMargin, c.Capacity)
	}
	if c.BatchSize > c.Capacity {
		return fmt.Errorf("telemetry: batch size %d must not exceed capacity %d", c.BatchSize, c.Capacity)
	}
	return nil
}

// Handle is an explicitly owned collector instance. Construct it with
// Initialize and pass it to call sites; there is no global singleton.
//
// RecordMetric is single-producer: at most one goroutine (the game
// loop) may call it concurrently. All other methods are safe from any
// goroutine.
type Handle struct {
	cfg   Config
	log   *zap.Logger
	store storage.Store

	tr    transport
	mode  Mode
	epoch time.Time

	mirror  *Mirror
	session atomic.Pointer[Session]

	dataLoss atomic.Uint64

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Initialize constructs a collector handle and starts its drain
// goroutine. The returned error covers invalid configuration only:
// shared-memory initialization failure is recovered by selecting the
// fallback transport and is never surfaced here.
func Initialize(cfg Config, log *zap.Logger, store storage.Store) (*Handle, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if store == nil {
		return nil, errNilStore
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	tr, mode := selectTransport(cfg, log)

	h := &Handle{
		cfg:    cfg,
		log:    log,
		store:  store,
		tr:     tr,
		mode:   mode,
		epoch:  time.Now(),
		mirror: newMirror(cfg.MirrorDepth),
		done:   make(chan struct{}),
	}

	log.Info("telemetry collector initialized",
		zap.String("mode", mode.String()),
		zap.Uint64("capacity", tr.capacity()),
		zap.Duration("drain_interval", cfg.DrainInterval))

	go h.runDrain()
	return h, nil
}

// selectTransport probes for shared-memory support and constructs the
// ring, falling back to the channel queue on any failure. The choice
// is permanent; there is no mid-session migration.
func selectTransport(cfg Config, log *zap.Logger) (transport, Mode) {
	if !cfg.ForceFallback && ring.Supported() {
		seg, err := ring.CreateSegment(cfg.SegmentName, uint64(cfg.Capacity))
		if err == nil {
			return &shmTransport{
				ring: ring.New(seg, uint64(cfg.OverflowMargin)),
				seg:  seg,
			}, ModeSharedMemory
		}
		log.Warn("shared memory unavailable, using fallback channel", zap.Error(err))
	}
	return &chanTransport{
		q: queue.New(uint64(cfg.QueueCapacity), uint64(cfg.OverflowMargin)),
	}, ModeFallback
}

// Mode reports which transport backs this handle.
func (h *Handle) Mode() Mode {
	return h.mode
}

// StartSession begins a collection run and activates recording.
// Samples drained from now on are attributed to the returned session
// ID. Starting a new session replaces the previous one.
func (h *Handle) StartSession(metadata map[string]string) string {
	sess := newSession(metadata)
	h.session.Store(sess)
	h.tr.setActive(true)
	h.log.Info("collection session started",
		zap.String("session_id", sess.ID),
		zap.String("mode", h.mode.String()))
	return sess.ID
}

// RecordMetric records one sample. It never blocks and never fails:
// with no active session, or after Stop, it is a silent no-op.
// Single-producer contract; concurrent callers would need a CAS-based
// slot claim this implementation deliberately does not have.
func (h *Handle) RecordMetric(metricType metrics.MetricType, value float32, category ...metrics.Category) {
	start := time.Now()

	if h.closed.Load() || !h.tr.active() {
		return
	}
	sess := h.session.Load()
	if sess == nil {
		return
	}

	cat := metrics.CategoryDefault
	if len(category) > 0 {
		cat = category[0]
	}
	metricType, cat = metrics.Normalize(metricType, cat)

	s := metrics.Sample{
		TimestampMs: float64(time.Since(h.epoch).Nanoseconds()) / 1e6,
		Value:       value,
		Sequence:    sess.nextSequence(),
		Type:        metricType,
		Category:    cat,
	}
	s.ProducerLatency = float32(time.Since(start).Nanoseconds()) / 1e3

	res := h.tr.publish(s)

	sess.noteWrite(time.Since(start))
	if res.overflow {
		sess.noteOverflow()
	}

	// Mirror write is independent of the shared buffer and only feeds
	// synchronous UI readback.
	h.mirror.Record(metricType, value)
}

// RequestFlush asks the consumer to drain ahead of its normal period.
func (h *Handle) RequestFlush() {
	h.tr.requestFlush()
	h.tr.wake()
}

// Stop requests shutdown and waits for the consumer's final drain.
// The shutdown request is cooperative; if the consumer does not reach
// its closed state before ctx expires, Stop returns
// ErrShutdownTimeout and the caller may abandon the goroutine.
func (h *Handle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		h.tr.setActive(false)
		h.tr.requestShutdown()
		h.tr.wake()
	})

	select {
	case <-h.done:
		h.closeOnce.Do(func() {
			h.closeErr = h.tr.close()
		})
		return h.closeErr
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// Query returns up to n recent values for the metric type from the
// local mirror, oldest first. The mirror is a convenience for UI
// readback and may lag the ring.
func (h *Handle) Query(metricType metrics.MetricType, n int) []float32 {
	return h.mirror.Last(metricType, n)
}

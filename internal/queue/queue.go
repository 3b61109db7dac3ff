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

// Package queue implements the fallback sample transport: the same
// producer/consumer contract as the shared-memory ring, backed by a
// bounded channel. It is selected when shared memory or the wait
// primitives are unavailable, and the selection is permanent for the
// collector's lifetime.
package queue

import (
	"sync/atomic"
	"time"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/internal/ring"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// Queue is the channel-backed transport. Its backpressure mechanism is
// the pending cap: a full queue drops the newest sample and counts it,
// keeping the producer non-blocking like the ring.
type Queue struct {
	ch     chan metrics.Sample
	notify chan struct{}

	// Same flag bits as the ring control block (ring.Flag*), kept in
	// ordinary process memory.
	flags atomic.Uint32

	pushed  atomic.Uint64 // samples accepted into the channel
	popped  atomic.Uint64 // samples handed to the consumer
	dropped atomic.Uint64 // samples rejected by the pending cap

	capacity uint64
	margin   uint64
}

// PublishResult reports what a single publish did.
type PublishResult struct {
	// Index is the absolute index of the accepted sample. Meaningless
	// when Dropped is true.
	Index uint64

	// Overflow is true when pending occupancy crossed the low-water
	// mark and a flush was signalled.
	Overflow bool

	// Dropped is true when the pending cap rejected the sample.
	Dropped bool
}

// New returns a queue with the given pending capacity and overflow
// low-water mark.
func New(capacity, margin uint64) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if margin >= capacity {
		margin = capacity - 1
	}
	return &Queue{
		ch:       make(chan metrics.Sample, capacity),
		notify:   make(chan struct{}, 1),
		capacity: capacity,
		margin:   margin,
	}
}

// Capacity returns the pending cap in samples.
func (q *Queue) Capacity() uint64 {
	return q.capacity
}

// Occupancy returns the current number of pending samples.
func (q *Queue) Occupancy() uint64 {
	return uint64(len(q.ch))
}

// Publish enqueues one sample without blocking. A full queue drops the
// sample and counts it as loss.
func (q *Queue) Publish(s metrics.Sample) PublishResult {
	var res PublishResult
	select {
	case q.ch <- s:
		res.Index = q.pushed.Add(1) - 1
	default:
		q.dropped.Add(1)
		res.Dropped = true
	}

	if uint64(len(q.ch)) >= q.capacity-q.margin {
		res.Overflow = true
		if q.Flags()&ring.FlagFlushRequested == 0 {
			q.RequestFlush()
			q.Wake()
		}
	}
	return res
}

// Drain moves pending samples into dst without blocking. It returns
// the number moved, the absolute index of the first one, and the drop
// count accumulated since the previous drain.
//
// Unlike the ring, drained samples leave the queue immediately; the
// at-least-once retry of an unacknowledged batch is the consumer's
// responsibility.
func (q *Queue) Drain(dst []metrics.Sample) (n int, base uint64, lost uint64) {
	base = q.popped.Load()
loop:
	for n < len(dst) {
		select {
		case s := <-q.ch:
			dst[n] = s
			n++
		default:
			break loop
		}
	}
	q.popped.Add(uint64(n))
	return n, base, q.dropped.Swap(0)
}

// Wake nudges a consumer blocked in Wait. Non-blocking.
func (q *Queue) Wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a wake arrives or the timeout elapses.
func (q *Queue) Wait(timeout time.Duration) {
	select {
	case <-q.notify:
	case <-time.After(timeout):
	}
}

// Flag protocol, mirroring the ring control block.

// Flags returns the current flag word.
func (q *Queue) Flags() uint32 {
	return q.flags.Load()
}

// MarkReady sets the consumer-ready flag.
func (q *Queue) MarkReady() {
	q.flags.Or(ring.FlagConsumerReady)
}

// Active reports whether a collection session is active.
func (q *Queue) Active() bool {
	return q.Flags()&ring.FlagActive != 0
}

// SetActive toggles the collection-active flag.
func (q *Queue) SetActive(active bool) {
	if active {
		q.flags.Or(ring.FlagActive)
	} else {
		q.flags.And(^ring.FlagActive)
	}
}

// RequestFlush sets the flush-requested flag.
func (q *Queue) RequestFlush() {
	q.flags.Or(ring.FlagFlushRequested)
}

// ClearFlush clears the flush-requested flag.
func (q *Queue) ClearFlush() {
	q.flags.And(^ring.FlagFlushRequested)
}

// FlushRequested reports whether a flush has been requested.
func (q *Queue) FlushRequested() bool {
	return q.Flags()&ring.FlagFlushRequested != 0
}

// RequestShutdown sets the terminal shutdown flag.
func (q *Queue) RequestShutdown() {
	q.flags.Or(ring.FlagShutdownRequested)
}

// ShutdownRequested reports whether shutdown has been requested.
func (q *Queue) ShutdownRequested() bool {
	return q.Flags()&ring.FlagShutdownRequested != 0
}

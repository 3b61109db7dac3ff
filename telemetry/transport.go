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
	"time"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/internal/queue"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/internal/ring"
	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

type publishResult struct {
	index    uint64
	overflow bool
	dropped  bool
}

// transport is the mode-agnostic contract between the producer API,
// the drain loop, and whichever backing implementation was selected at
// construction. Call sites never know which mode is active.
type transport interface {
	publish(metrics.Sample) publishResult
	drain(dst []metrics.Sample) (n int, base uint64, lost uint64)
	advanceRead(idx uint64)

	wakeToken() uint32
	wait(token uint32, timeout time.Duration)
	wake()

	markReady()
	setActive(active bool)
	active() bool
	requestFlush()
	clearFlush()
	flushRequested() bool
	requestShutdown()
	shutdownRequested() bool

	occupancy() uint64
	capacity() uint64
	close() error
}

// shmTransport backs the contract with the shared-memory slot ring.
type shmTransport struct {
	ring *ring.Ring
	seg  *ring.Segment
}

func (t *shmTransport) publish(s metrics.Sample) publishResult {
	res := t.ring.Publish(s)
	return publishResult{index: res.Index, overflow: res.Overflow}
}

func (t *shmTransport) drain(dst []metrics.Sample) (int, uint64, uint64) {
	return t.ring.Drain(dst)
}

func (t *shmTransport) advanceRead(idx uint64) {
	t.ring.AdvanceRead(idx)
}

func (t *shmTransport) wakeToken() uint32 {
	return t.ring.WakeToken()
}

func (t *shmTransport) wait(token uint32, timeout time.Duration) {
	t.ring.Wait(token, timeout)
}

func (t *shmTransport) wake() {
	t.ring.Wake()
}

func (t *shmTransport) markReady()            { t.ring.Control().MarkReady() }
func (t *shmTransport) setActive(active bool) { t.ring.Control().SetActive(active) }
func (t *shmTransport) active() bool          { return t.ring.Control().Active() }
func (t *shmTransport) requestFlush()         { t.ring.Control().RequestFlush() }
func (t *shmTransport) clearFlush()           { t.ring.Control().ClearFlush() }
func (t *shmTransport) flushRequested() bool  { return t.ring.Control().FlushRequested() }
func (t *shmTransport) requestShutdown()      { t.ring.Control().RequestShutdown() }
func (t *shmTransport) shutdownRequested() bool {
	return t.ring.Control().ShutdownRequested()
}

func (t *shmTransport) occupancy() uint64 { return t.ring.Occupancy() }
func (t *shmTransport) capacity() uint64  { return t.ring.Capacity() }

func (t *shmTransport) close() error {
	err := t.seg.Close()
	if rmErr := t.seg.Remove(); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// chanTransport backs the contract with the fallback channel queue.
type chanTransport struct {
	q *queue.Queue
}

func (t *chanTransport) publish(s metrics.Sample) publishResult {
	res := t.q.Publish(s)
	return publishResult{index: res.Index, overflow: res.Overflow, dropped: res.Dropped}
}

func (t *chanTransport) drain(dst []metrics.Sample) (int, uint64, uint64) {
	return t.q.Drain(dst)
}

// advanceRead is a no-op: drained samples already left the channel.
// Unacknowledged batches are retried from the drain loop's own copy.
func (t *chanTransport) advanceRead(uint64) {}

func (t *chanTransport) wakeToken() uint32 { return 0 }

func (t *chanTransport) wait(_ uint32, timeout time.Duration) {
	t.q.Wait(timeout)
}

func (t *chanTransport) wake() { t.q.Wake() }

func (t *chanTransport) markReady()              { t.q.MarkReady() }
func (t *chanTransport) setActive(active bool)   { t.q.SetActive(active) }
func (t *chanTransport) active() bool            { return t.q.Active() }
func (t *chanTransport) requestFlush()           { t.q.RequestFlush() }
func (t *chanTransport) clearFlush()             { t.q.ClearFlush() }
func (t *chanTransport) flushRequested() bool    { return t.q.FlushRequested() }
func (t *chanTransport) requestShutdown()        { t.q.RequestShutdown() }
func (t *chanTransport) shutdownRequested() bool { return t.q.ShutdownRequested() }

func (t *chanTransport) occupancy() uint64 { return t.q.Occupancy() }
func (t *chanTransport) capacity() uint64  { return t.q.Capacity() }

func (t *chanTransport) close() error { return nil }

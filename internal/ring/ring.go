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

package ring

import (
	"time"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// Ring is the single-producer/single-consumer sample ring over a
// mapped segment. The producer never blocks: when the consumer falls a
// full capacity behind, old unread slots are overwritten (lossy under
// pressure by design; the loss is counted on the drain side).
type Ring struct {
	seg      *Segment
	mask     uint64 // capacity-1 for fast masking
	capacity uint64
	margin   uint64 // overflow low-water mark in slots
}

// PublishResult reports what a single publish did.
type PublishResult struct {
	// Index is the absolute slot index the sample was written at.
	Index uint64

	// Overflow is true when occupancy crossed the low-water mark and
	// a flush was signalled. The sample was still written.
	Overflow bool
}

// New wraps a created or opened segment. The margin is clamped to
// leave at least one usable slot.
func New(seg *Segment, margin uint64) *Ring {
	capacity := seg.Control().Capacity()
	if margin >= capacity {
		margin = capacity - 1
	}
	return &Ring{
		seg:      seg,
		mask:     capacity - 1,
		capacity: capacity,
		margin:   margin,
	}
}

// Control returns the ring's control block.
func (r *Ring) Control() *ControlBlock {
	return r.seg.Control()
}

// Capacity returns the slot capacity.
func (r *Ring) Capacity() uint64 {
	return r.capacity
}

// Occupancy returns the current number of unread slots. May exceed
// capacity when the producer has lapped the consumer.
func (r *Ring) Occupancy() uint64 {
	return r.Control().Used()
}

func (r *Ring) slot(idx uint64) []byte {
	off := ControlBlockSize + (idx&r.mask)*SlotSize
	return r.seg.Mem[off : off+SlotSize]
}

// Publish writes one sample and advances the write cursor. It never
// blocks and never fails. Single producer only: no concurrent Publish
// calls.
//
// Crossing the overflow low-water mark sets the flush flag and wakes
// the consumer; the write itself always proceeds, overwriting the
// oldest unread slot on wrap.
func (r *Ring) Publish(s metrics.Sample) PublishResult {
	ctl := r.Control()

	w := ctl.WriteIndex()
	rd := ctl.ReadIndex()

	encodeSlot(r.slot(w), s)

	res := PublishResult{Index: w}
	if w+1-rd >= r.capacity-r.margin {
		res.Overflow = true
		if !ctl.FlushRequested() {
			ctl.RequestFlush()
			r.Wake()
		}
	}

	// Publish the cursor last: the atomic store makes the slot bytes
	// above visible to any consumer that observes the new value.
	ctl.SetWriteIndex(w + 1)

	return res
}

// Drain decodes unread slots into dst without advancing the read
// cursor. It returns the number decoded, the absolute index of the
// first decoded slot, and the number of slots lost to overwrite (the
// consumer had fallen more than capacity behind).
//
// The caller advances the cursor with AdvanceRead(base+n) once the
// batch has been accepted downstream; until then a retry re-delivers
// the same window.
func (r *Ring) Drain(dst []metrics.Sample) (n int, base uint64, lost uint64) {
	ctl := r.Control()

	w := ctl.WriteIndex()
	rd := ctl.ReadIndex()

	avail := w - rd
	if avail == 0 {
		return 0, rd, 0
	}

	// Slots older than one full capacity were overwritten; clamp the
	// window to the newest capacity slots and count the gap as loss.
	if avail > r.capacity {
		lost = avail - r.capacity
		rd = w - r.capacity
		avail = r.capacity
	}

	n = len(dst)
	if uint64(n) > avail {
		n = int(avail)
	}
	for i := 0; i < n; i++ {
		dst[i] = decodeSlot(r.slot(rd + uint64(i)))
	}
	return n, rd, lost
}

// AdvanceRead stores the read cursor. Only the consumer calls this,
// after downstream acceptance of everything before idx.
func (r *Ring) AdvanceRead(idx uint64) {
	r.Control().SetReadIndex(idx)
}

// Wake bumps the wake sequence and wakes a consumer blocked in Wait.
func (r *Ring) Wake() {
	ctl := r.Control()
	ctl.BumpWakeSequence()
	futexWake(&ctl.wakeSeq, 1)
}

// WakeToken snapshots the wake sequence. Take the token before
// checking for work, then pass it to Wait: a wake that lands in
// between changes the sequence and makes Wait return immediately.
func (r *Ring) WakeToken() uint32 {
	return r.Control().WakeSequence()
}

// Wait blocks until a wake arrives or the timeout elapses. Spurious
// returns are fine; the caller re-checks its condition in a loop.
func (r *Ring) Wait(token uint32, timeout time.Duration) {
	ctl := r.Control()
	futexWaitTimeout(&ctl.wakeSeq, token, timeout.Nanoseconds())
}

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
	"time"

	"go.uber.org/zap"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// pendingBatch is a decoded batch awaiting storage acknowledgement.
// The read cursor is not advanced past it until AppendBatch succeeds,
// so a retry re-delivers the same entries; sinks deduplicate by
// (session_id, slot_idx).
type pendingBatch struct {
	sessionID string
	entries   []metrics.Entry
	next      uint64 // read cursor value once acknowledged
}

// runDrain is the consumer loop. It wakes on the drain period or a
// flush/shutdown signal, drains in batches, and exits after the final
// drain once shutdown is observed.
func (h *Handle) runDrain() {
	defer close(h.done)

	h.tr.markReady()

	buf := make([]metrics.Sample, h.cfg.BatchSize)
	var pending *pendingBatch

	for {
		// Snapshot the wake token before checking for work so a wake
		// landing in between makes the wait return immediately.
		token := h.tr.wakeToken()

		for h.drainOnce(buf, &pending) {
		}

		if h.tr.flushRequested() && pending == nil && h.tr.occupancy() == 0 {
			h.tr.clearFlush()
		}

		if h.tr.shutdownRequested() {
			h.finalDrain(buf, &pending)
			return
		}

		h.tr.wait(token, h.cfg.DrainInterval)
	}
}

// drainOnce makes one unit of progress: retrying the unacknowledged
// batch if there is one, otherwise decoding and persisting the next
// window. Returns false when nothing more can be done right now.
func (h *Handle) drainOnce(buf []metrics.Sample, pending **pendingBatch) bool {
	if p := *pending; p != nil {
		if err := h.appendBatch(p); err != nil {
			return false
		}
		*pending = nil
		return true
	}

	n, base, lost := h.tr.drain(buf)
	if lost > 0 {
		// Distinct from overflow backpressure: these slots are
		// physically gone. Downstream treats gaps as expected under
		// sustained overload.
		h.dataLoss.Add(lost)
		h.log.Warn("samples overwritten before drain",
			zap.Uint64("lost", lost),
			zap.Uint64("read_cursor", base))
	}
	if n == 0 {
		return false
	}

	sess := h.session.Load()
	if sess == nil {
		// Nothing to attribute the samples to; discard and move on.
		h.tr.advanceRead(base + uint64(n))
		return true
	}

	entries := make([]metrics.Entry, n)
	for i, s := range buf[:n] {
		entries[i] = metrics.Entry{
			SessionID:       sess.ID,
			SlotIndex:       base + uint64(i),
			Type:            s.Type,
			Category:        s.Category,
			Value:           s.Value,
			TimestampMs:     s.TimestampMs,
			Sequence:        s.Sequence,
			ProducerLatency: s.ProducerLatency,
		}
	}

	p := &pendingBatch{sessionID: sess.ID, entries: entries, next: base + uint64(n)}
	if err := h.appendBatch(p); err != nil {
		*pending = p
		return false
	}
	return true
}

func (h *Handle) appendBatch(p *pendingBatch) error {
	err := h.store.AppendBatch(context.Background(), p.sessionID, p.entries)
	if err != nil {
		h.log.Warn("batch persist failed, will retry next tick",
			zap.Error(err),
			zap.Int("entries", len(p.entries)))
		return err
	}
	h.tr.advanceRead(p.next)
	return nil
}

// finalDrain performs the unconditional drain-and-persist required
// before the consumer signals closed. Persistence failures are retried
// a few times; shutdown is terminal, so a sink that keeps failing
// loses the tail.
func (h *Handle) finalDrain(buf []metrics.Sample, pending **pendingBatch) {
	const retries = 3

	for attempt := 0; ; {
		if h.drainOnce(buf, pending) {
			continue
		}
		if *pending == nil && h.tr.occupancy() == 0 {
			break
		}
		attempt++
		if attempt >= retries {
			if *pending != nil {
				h.log.Error("discarding unpersisted batch at shutdown",
					zap.Int("entries", len((*pending).entries)))
			}
			break
		}
		time.Sleep(h.cfg.DrainInterval)
	}

	h.log.Info("drain loop closed",
		zap.Uint64("data_loss", h.dataLoss.Load()))
}

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

import "time"

// Diagnostics is a point-in-time snapshot of the collector's health
// counters. Telemetry is best-effort, so these counters are the only
// caller-visible effect of overload or degraded operation.
type Diagnostics struct {
	Mode                 Mode
	SessionID            string
	Writes               uint64
	OverflowCount        uint64
	DataLoss             uint64
	AtomicCASFailures    uint64
	AverageWriteLatency  time.Duration
	BufferUtilizationPct float64
}

// Diagnostics snapshots the current counters. Safe from any goroutine.
func (h *Handle) Diagnostics() Diagnostics {
	d := Diagnostics{
		Mode:     h.mode,
		DataLoss: h.dataLoss.Load(),
	}

	if sess := h.session.Load(); sess != nil {
		stats := sess.Stats()
		d.SessionID = sess.ID
		d.Writes = stats.Writes
		d.OverflowCount = stats.OverflowCount
		d.AtomicCASFailures = stats.AtomicCASFailures
		d.AverageWriteLatency = stats.AverageWriteLatency
	}

	if capacity := h.tr.capacity(); capacity > 0 {
		occ := h.tr.occupancy()
		if occ > capacity {
			occ = capacity
		}
		d.BufferUtilizationPct = float64(occ) * 100 / float64(capacity)
	}
	return d
}

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
	"math/bits"
	"sync"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// Mirror keeps the last N values per metric type for synchronous UI
// readback. It is a convenience view: not authoritative, and it may
// lag the ring. Single writer (the producer) with concurrent readers.
type Mirror struct {
	mu    sync.RWMutex
	mask  uint64
	depth int
	lanes map[metrics.MetricType]*mirrorLane
}

type mirrorLane struct {
	buf  []float32
	head uint64 // absolute write counter; slot = head & mask
}

func newMirror(depth int) *Mirror {
	if depth <= 1 {
		depth = 1
	} else {
		depth = 1 << bits.Len(uint(depth-1))
	}
	return &Mirror{
		mask:  uint64(depth - 1),
		depth: depth,
		lanes: make(map[metrics.MetricType]*mirrorLane),
	}
}

// Record appends a value to the metric's lane, overwriting the oldest
// once the lane is full.
func (m *Mirror) Record(metricType metrics.MetricType, value float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lane := m.lanes[metricType]
	if lane == nil {
		lane = &mirrorLane{buf: make([]float32, m.depth)}
		m.lanes[metricType] = lane
	}
	lane.buf[lane.head&m.mask] = value
	lane.head++
}

// Last returns up to n recent values for the metric type in
// chronological order. Returns nil for an unseen metric.
func (m *Mirror) Last(metricType metrics.MetricType, n int) []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lane := m.lanes[metricType]
	if lane == nil || n <= 0 || lane.head == 0 {
		return nil
	}

	start := uint64(0)
	if lane.head > uint64(m.depth) {
		start = lane.head - uint64(m.depth)
	}
	if lane.head-start > uint64(n) {
		start = lane.head - uint64(n)
	}

	out := make([]float32, 0, lane.head-start)
	for i := start; i < lane.head; i++ {
		out = append(out, lane.buf[i&m.mask])
	}
	return out
}

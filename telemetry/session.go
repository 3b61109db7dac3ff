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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one collection run. It accumulates producer-side
// statistics; counters are atomic so Diagnostics can snapshot them
// from any goroutine.
type Session struct {
	ID        string
	StartedAt time.Time
	Metadata  map[string]string

	seq         atomic.Uint32
	writes      atomic.Uint64
	overflows   atomic.Uint64
	casFailures atomic.Uint64 // reserved for a multi-producer CAS claim; stays 0 today

	// EWMA of the producer's per-write latency in nanoseconds.
	// Single-writer (the producer), so load-compute-store is fine.
	avgLatencyNs atomic.Uint64
}

func newSession(metadata map[string]string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
}

// nextSequence returns the producer's write counter for the next
// sample, starting at 0.
func (s *Session) nextSequence() uint32 {
	return s.seq.Add(1) - 1
}

func (s *Session) noteWrite(latency time.Duration) {
	s.writes.Add(1)

	cur := uint64(latency.Nanoseconds())
	prev := s.avgLatencyNs.Load()
	if prev == 0 {
		s.avgLatencyNs.Store(cur)
		return
	}
	// alpha = 1/8
	s.avgLatencyNs.Store(prev - prev/8 + cur/8)
}

func (s *Session) noteOverflow() {
	s.overflows.Add(1)
}

// SessionStats is a snapshot of a session's producer-side counters.
type SessionStats struct {
	Writes              uint64
	OverflowCount       uint64
	AtomicCASFailures   uint64
	AverageWriteLatency time.Duration
}

// Stats snapshots the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Writes:              s.writes.Load(),
		OverflowCount:       s.overflows.Load(),
		AtomicCASFailures:   s.casFailures.Load(),
		AverageWriteLatency: time.Duration(s.avgLatencyNs.Load()),
	}
}

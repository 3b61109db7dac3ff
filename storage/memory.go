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

package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// ErrInjectedFailure is returned by a Memory store armed with
// FailNext, for persistence-retry tests.
var ErrInjectedFailure = errors.New("storage: injected failure")

type entryKey struct {
	sessionID string
	slotIndex uint64
}

// Memory is an in-process Store for tests and local tooling. Appends
// are idempotent: re-delivered entries are dropped by their
// (session_id, slot_idx) key.
type Memory struct {
	mu       sync.Mutex
	entries  []metrics.Entry
	seen     map[entryKey]struct{}
	failNext int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{seen: make(map[entryKey]struct{})}
}

// FailNext makes the next n AppendBatch calls fail with
// ErrInjectedFailure without recording anything.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// AppendBatch implements Store.
func (m *Memory) AppendBatch(_ context.Context, sessionID string, entries []metrics.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext > 0 {
		m.failNext--
		return ErrInjectedFailure
	}

	for _, e := range entries {
		key := entryKey{sessionID: sessionID, slotIndex: e.SlotIndex}
		if _, dup := m.seen[key]; dup {
			continue
		}
		m.seen[key] = struct{}{}
		m.entries = append(m.entries, e)
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

// Entries returns a copy of everything appended so far, in order.
func (m *Memory) Entries() []metrics.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]metrics.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// SessionEntries returns the appended entries for one session.
func (m *Memory) SessionEntries(sessionID string) []metrics.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []metrics.Entry
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out
}

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

// Package storage holds the durable-storage collaborators the drain
// loop hands batches to. Delivery is at-least-once: the read cursor
// only advances after acknowledgement, so every sink must tolerate
// re-delivery of the same batch, deduplicating by the entries'
// (session_id, slot_idx) key.
package storage

import (
	"context"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// Store is the durable-storage contract.
type Store interface {
	// AppendBatch durably appends an ordered batch for one session.
	// It must be idempotent under re-delivery after a retry.
	AppendBatch(ctx context.Context, sessionID string, entries []metrics.Entry) error

	// Close releases the sink's resources.
	Close() error
}

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

package metrics

// Sample is one performance measurement as written by the producer.
// All fields are fixed-width; a Sample round-trips through a 32-byte
// ring slot without allocation.
type Sample struct {
	// TimestampMs is milliseconds since the collector epoch, taken
	// from the monotonic clock.
	TimestampMs float64

	// Value is the measured quantity (ms, MB, ... depending on Type).
	Value float32

	// ProducerLatency is the time in microseconds the producer spent
	// encoding this sample, measured inside the recording call.
	ProducerLatency float32

	// Sequence is the producer's write counter within the session
	// (frame counter for per-frame metrics).
	Sequence uint32

	Type     MetricType
	Category Category
}

// Entry is a drained, session-attributed sample as handed to the
// durable-storage collaborator.
type Entry struct {
	SessionID string `json:"session_id"`

	// SlotIndex is the absolute (monotonic) ring index the sample was
	// published at. It is unique per session and serves as the
	// idempotency key for at-least-once delivery.
	SlotIndex uint64 `json:"slot_idx"`

	Type            MetricType `json:"type"`
	Category        Category   `json:"category"`
	Value           float32    `json:"value"`
	TimestampMs     float64    `json:"ts_ms"`
	Sequence        uint32     `json:"seq"`
	ProducerLatency float32    `json:"producer_latency"`
}

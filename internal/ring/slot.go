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
	"encoding/binary"
	"math"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// Slot layout (little-endian, SlotSize bytes):
//
//	0x00  timestamp_ms     float64
//	0x08  value            float32
//	0x0C  producer_latency float32
//	0x10  sequence         uint32
//	0x14  metric_type      uint16
//	0x16  category         uint16
//	0x18  reserved         8 bytes
//
// Slot stores are ordinary (non-atomic): the slot is owned by the
// producer until the write cursor publishing it is stored, and
// immutable afterwards until overwritten a full capacity cycle later.
const (
	slotOffTimestamp = 0x00
	slotOffValue     = 0x08
	slotOffLatency   = 0x0C
	slotOffSequence  = 0x10
	slotOffType      = 0x14
	slotOffCategory  = 0x16
)

// encodeSlot writes the sample into a SlotSize-byte slot.
func encodeSlot(dst []byte, s metrics.Sample) {
	_ = dst[SlotSize-1]
	binary.LittleEndian.PutUint64(dst[slotOffTimestamp:], math.Float64bits(s.TimestampMs))
	binary.LittleEndian.PutUint32(dst[slotOffValue:], math.Float32bits(s.Value))
	binary.LittleEndian.PutUint32(dst[slotOffLatency:], math.Float32bits(s.ProducerLatency))
	binary.LittleEndian.PutUint32(dst[slotOffSequence:], s.Sequence)
	binary.LittleEndian.PutUint16(dst[slotOffType:], uint16(s.Type))
	binary.LittleEndian.PutUint16(dst[slotOffCategory:], uint16(s.Category))
}

// decodeSlot reads a sample back out of a SlotSize-byte slot.
func decodeSlot(src []byte) metrics.Sample {
	_ = src[SlotSize-1]
	return metrics.Sample{
		TimestampMs:     math.Float64frombits(binary.LittleEndian.Uint64(src[slotOffTimestamp:])),
		Value:           math.Float32frombits(binary.LittleEndian.Uint32(src[slotOffValue:])),
		ProducerLatency: math.Float32frombits(binary.LittleEndian.Uint32(src[slotOffLatency:])),
		Sequence:        binary.LittleEndian.Uint32(src[slotOffSequence:]),
		Type:            metrics.MetricType(binary.LittleEndian.Uint16(src[slotOffType:])),
		Category:        metrics.Category(binary.LittleEndian.Uint16(src[slotOffCategory:])),
	}
}

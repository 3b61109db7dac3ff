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

// Package ring implements the shared-memory sample transport: a
// fixed-capacity slot ring over a memory-mapped segment, with a
// control block of atomic lifecycle flags and monotonic read/write
// cursors. Single producer, single consumer.
package ring

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants.
const (
	// Magic bytes for segment identification.
	SegmentMagic = "SQSHTLM\x00"

	// Current segment format version.
	SegmentVersion = uint32(1)

	// Control block size (aligned to 128 bytes); the slot array
	// starts immediately after.
	ControlBlockSize = 128

	// Fixed byte width of one sample slot.
	SlotSize = 32

	// Minimum slot capacity.
	MinSlots = 16

	// Default slot capacity (one second of samples at ~4k/s).
	DefaultSlots = 4096
)

// Lifecycle flag bits in the control block's flag word. All
// transitions are atomic OR/AND read-modify-writes, never a plain
// load-then-store.
const (
	// FlagConsumerReady is set once by the consumer when its drain
	// loop is running.
	FlagConsumerReady = uint32(1) << iota

	// FlagActive is toggled by the producer; recording is a no-op
	// while clear.
	FlagActive

	// FlagShutdownRequested is terminal. Once the consumer observes
	// it, it performs a final drain and exits.
	FlagShutdownRequested

	// FlagFlushRequested asks the consumer to drain ahead of its
	// normal period. Set by either side, cleared by the consumer once
	// it has caught up.
	FlagFlushRequested
)

// ErrUnsupported indicates the shared-memory transport cannot run on
// this platform. Callers recover by constructing the fallback channel.
var ErrUnsupported = errors.New("ring: shared memory transport not supported on this platform")

// Platform-specific hook, set by the mmap implementation's init.
var unmapMemory func([]byte) error

// ControlBlock is the shared segment header. Layout is fixed and
// 128-byte aligned; every mutable field is accessed atomically.
type ControlBlock struct {
	magic    [8]byte  // 0x00: "SQSHTLM\0"
	version  uint32   // 0x08: segment format version
	flags    uint32   // 0x0C: lifecycle flag bits
	capacity uint64   // 0x10: slot capacity (power of 2)
	widx     uint64   // 0x18: monotonic write cursor (producer)
	ridx     uint64   // 0x20: monotonic read cursor (consumer)
	wakeSeq  uint32   // 0x28: consumer wake sequence (futex word)
	pad      uint32   // 0x2C: padding
	reserved [80]byte // 0x30-0x7F: reserved/padding to 128B
	// slot array starts at offset 0x80
}

// Magic returns the magic bytes.
func (c *ControlBlock) Magic() [8]byte {
	return c.magic
}

// SetMagic sets the magic bytes.
func (c *ControlBlock) SetMagic(magic [8]byte) {
	c.magic = magic
}

// Version returns the segment format version.
func (c *ControlBlock) Version() uint32 {
	return atomic.LoadUint32(&c.version)
}

// SetVersion sets the segment format version.
func (c *ControlBlock) SetVersion(version uint32) {
	atomic.StoreUint32(&c.version, version)
}

// Flags returns the current flag word.
func (c *ControlBlock) Flags() uint32 {
	return atomic.LoadUint32(&c.flags)
}

// OrFlags atomically sets the given flag bits and returns the old word.
func (c *ControlBlock) OrFlags(mask uint32) uint32 {
	return atomic.OrUint32(&c.flags, mask)
}

// AndFlags atomically clears the bits absent from mask and returns the
// old word.
func (c *ControlBlock) AndFlags(mask uint32) uint32 {
	return atomic.AndUint32(&c.flags, mask)
}

// ConsumerReady reports whether the consumer's drain loop is running.
func (c *ControlBlock) ConsumerReady() bool {
	return c.Flags()&FlagConsumerReady != 0
}

// MarkReady sets the consumer-ready flag. Only the consumer calls this.
func (c *ControlBlock) MarkReady() {
	c.OrFlags(FlagConsumerReady)
}

// Active reports whether a collection session is active.
func (c *ControlBlock) Active() bool {
	return c.Flags()&FlagActive != 0
}

// SetActive toggles the collection-active flag. Only the producer
// calls this.
func (c *ControlBlock) SetActive(active bool) {
	if active {
		c.OrFlags(FlagActive)
	} else {
		c.AndFlags(^FlagActive)
	}
}

// RequestFlush sets the flush-requested flag.
func (c *ControlBlock) RequestFlush() {
	c.OrFlags(FlagFlushRequested)
}

// ClearFlush clears the flush-requested flag. Only the consumer calls
// this, after catching up to the write cursor.
func (c *ControlBlock) ClearFlush() {
	c.AndFlags(^FlagFlushRequested)
}

// FlushRequested reports whether a flush has been requested.
func (c *ControlBlock) FlushRequested() bool {
	return c.Flags()&FlagFlushRequested != 0
}

// RequestShutdown sets the terminal shutdown flag.
func (c *ControlBlock) RequestShutdown() {
	c.OrFlags(FlagShutdownRequested)
}

// ShutdownRequested reports whether shutdown has been requested.
func (c *ControlBlock) ShutdownRequested() bool {
	return c.Flags()&FlagShutdownRequested != 0
}

// Capacity returns the slot capacity.
func (c *ControlBlock) Capacity() uint64 {
	return atomic.LoadUint64(&c.capacity)
}

// SetCapacity sets the slot capacity.
func (c *ControlBlock) SetCapacity(capacity uint64) {
	atomic.StoreUint64(&c.capacity, capacity)
}

// WriteIndex returns the monotonic write cursor (producer).
func (c *ControlBlock) WriteIndex() uint64 {
	return atomic.LoadUint64(&c.widx)
}

// SetWriteIndex publishes the write cursor. The atomic store orders
// after the producer's slot stores, so a consumer that observes the
// new cursor also observes the slot contents.
func (c *ControlBlock) SetWriteIndex(idx uint64) {
	atomic.StoreUint64(&c.widx, idx)
}

// ReadIndex returns the monotonic read cursor (consumer).
func (c *ControlBlock) ReadIndex() uint64 {
	return atomic.LoadUint64(&c.ridx)
}

// SetReadIndex advances the read cursor. Only the consumer calls this,
// and only after the drained batch has been accepted downstream.
func (c *ControlBlock) SetReadIndex(idx uint64) {
	atomic.StoreUint64(&c.ridx, idx)
}

// WakeSequence returns the consumer wake sequence number.
func (c *ControlBlock) WakeSequence() uint32 {
	return atomic.LoadUint32(&c.wakeSeq)
}

// BumpWakeSequence atomically increments the wake sequence.
func (c *ControlBlock) BumpWakeSequence() uint32 {
	return atomic.AddUint32(&c.wakeSeq, 1)
}

// Used returns the current occupancy in slots.
func (c *ControlBlock) Used() uint64 {
	w := atomic.LoadUint64(&c.widx)
	rd := atomic.LoadUint64(&c.ridx)
	return w - rd // uint64 arithmetic handles wrap-around
}

// IsPowerOfTwo returns true if n is a power of two.
func IsPowerOfTwo(n uint64) bool {
	return n > 0 && (n&(n-1)) == 0
}

// RoundUpPowerOfTwo returns the next power of two >= n, with minimum
// value MinSlots.
func RoundUpPowerOfTwo(n uint64) uint64 {
	if n < MinSlots {
		return MinSlots
	}
	if n&(n-1) == 0 {
		return n
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}

// SegmentSize returns the total byte size of a segment holding the
// given slot capacity.
func SegmentSize(slots uint64) uint64 {
	return ControlBlockSize + slots*SlotSize
}

// ValidateControlBlock validates a mapped control block for
// consistency against the segment's byte size.
func ValidateControlBlock(c *ControlBlock, segBytes uint64) error {
	if c.Magic() != [8]byte{'S', 'Q', 'S', 'H', 'T', 'L', 'M', 0} {
		return fmt.Errorf("invalid magic bytes")
	}
	if c.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", c.Version(), SegmentVersion)
	}
	capacity := c.Capacity()
	if !IsPowerOfTwo(capacity) {
		return fmt.Errorf("capacity %d is not a power of two", capacity)
	}
	if capacity < MinSlots {
		return fmt.Errorf("capacity %d is below minimum %d", capacity, MinSlots)
	}
	if want := SegmentSize(capacity); segBytes < want {
		return fmt.Errorf("segment size %d smaller than layout size %d", segBytes, want)
	}
	return nil
}

// Segment is a mapped shared memory segment: control block followed by
// the slot array.
type Segment struct {
	File *os.File // backing file descriptor
	Mem  []byte   // memory-mapped region
	Path string   // backing file path
}

// Control returns the typed view of the control block.
func (s *Segment) Control() *ControlBlock {
	return (*ControlBlock)(unsafe.Pointer(&s.Mem[0]))
}

// Close unmaps the memory and closes the file.
func (s *Segment) Close() error {
	var firstErr error
	if s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		s.Mem = nil
	}
	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}
	return firstErr
}

// Remove deletes the segment's backing file.
func (s *Segment) Remove() error {
	if s.Path == "" {
		return nil
	}
	err := os.Remove(s.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

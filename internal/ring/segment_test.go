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
	"fmt"
	"testing"
	"time"
)

func TestSegmentCreateOpen(t *testing.T) {
	if !Supported() {
		t.Skip("shared memory transport not supported on this platform")
	}

	name := fmt.Sprintf("test-seg-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 100) // rounds up to 128
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	defer func() {
		seg.Close()
		seg.Remove()
	}()

	ctl := seg.Control()
	if ctl.Capacity() != 128 {
		t.Fatalf("expected capacity rounded to 128, got %d", ctl.Capacity())
	}
	if ctl.WriteIndex() != 0 || ctl.ReadIndex() != 0 {
		t.Fatal("cursors not zeroed on create")
	}
	if ctl.Flags() != 0 {
		t.Fatalf("flags not cleared on create: %x", ctl.Flags())
	}

	// A second mapping of the same segment sees the same control block.
	other, err := OpenSegment(name)
	if err != nil {
		t.Fatalf("failed to open segment: %v", err)
	}
	defer other.Close()

	ctl.SetWriteIndex(42)
	if got := other.Control().WriteIndex(); got != 42 {
		t.Fatalf("cursor not shared across mappings: got %d", got)
	}
}

func TestSegmentCreateExclusive(t *testing.T) {
	if !Supported() {
		t.Skip("shared memory transport not supported on this platform")
	}

	name := fmt.Sprintf("test-excl-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 64)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	defer func() {
		seg.Close()
		seg.Remove()
	}()

	if _, err := CreateSegment(name, 64); err == nil {
		t.Fatal("expected exclusive create of existing segment to fail")
	}
}

func TestSegmentOpenMissing(t *testing.T) {
	if !Supported() {
		t.Skip("shared memory transport not supported on this platform")
	}

	if _, err := OpenSegment(fmt.Sprintf("missing-%d", time.Now().UnixNano())); err == nil {
		t.Fatal("expected open of missing segment to fail")
	}
}

func TestSegmentValidateRejectsCorruption(t *testing.T) {
	if !Supported() {
		t.Skip("shared memory transport not supported on this platform")
	}

	name := fmt.Sprintf("test-corrupt-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 64)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	defer func() {
		seg.Close()
		seg.Remove()
	}()

	seg.Control().SetMagic([8]byte{'B', 'O', 'G', 'U', 'S', 0, 0, 0})
	if _, err := OpenSegment(name); err == nil {
		t.Fatal("expected open of corrupted segment to fail")
	}
}

func TestControlBlockFlagProtocol(t *testing.T) {
	if !Supported() {
		t.Skip("shared memory transport not supported on this platform")
	}

	name := fmt.Sprintf("test-flags-%d", time.Now().UnixNano())
	seg, err := CreateSegment(name, 64)
	if err != nil {
		t.Fatalf("failed to create segment: %v", err)
	}
	defer func() {
		seg.Close()
		seg.Remove()
	}()

	ctl := seg.Control()

	ctl.MarkReady()
	ctl.SetActive(true)
	ctl.RequestFlush()
	if !ctl.ConsumerReady() || !ctl.Active() || !ctl.FlushRequested() {
		t.Fatalf("flag bits lost: %x", ctl.Flags())
	}

	// Clearing one bit leaves the others untouched.
	ctl.ClearFlush()
	if ctl.FlushRequested() {
		t.Fatal("flush flag not cleared")
	}
	if !ctl.ConsumerReady() || !ctl.Active() {
		t.Fatalf("unrelated flag bits clobbered: %x", ctl.Flags())
	}

	ctl.SetActive(false)
	if ctl.Active() {
		t.Fatal("active flag not cleared")
	}

	ctl.RequestShutdown()
	if !ctl.ShutdownRequested() {
		t.Fatal("shutdown flag not set")
	}
}

func TestRoundUpPowerOfTwo(t *testing.T) {
	cases := []struct {
		in, want uint64
	}{
		{0, 16},
		{1, 16},
		{16, 16},
		{17, 32},
		{100, 128},
		{4096, 4096},
		{4097, 8192},
	}
	for _, c := range cases {
		if got := RoundUpPowerOfTwo(c.in); got != c.want {
			t.Errorf("RoundUpPowerOfTwo(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

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

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

func sample(seq uint32, v float32) metrics.Sample {
	return metrics.Sample{
		Value:    v,
		Sequence: seq,
		Type:     metrics.MetricFrameTime,
	}
}

func TestQueueOrderedDelivery(t *testing.T) {
	q := New(16, 4)

	for i := uint32(0); i < 10; i++ {
		res := q.Publish(sample(i, float32(i)))
		require.False(t, res.Dropped)
		assert.Equal(t, uint64(i), res.Index)
	}

	buf := make([]metrics.Sample, 16)
	n, base, lost := q.Drain(buf)
	require.Equal(t, 10, n)
	assert.Equal(t, uint64(0), base)
	assert.Equal(t, uint64(0), lost)
	for i := 0; i < n; i++ {
		assert.Equal(t, uint32(i), buf[i].Sequence)
	}
	assert.Equal(t, uint64(0), q.Occupancy())
}

func TestQueueDropsWhenFull(t *testing.T) {
	// Pending cap 2: five writes keep the first two and drop the rest.
	q := New(2, 1)

	var dropped int
	for i := uint32(0); i < 5; i++ {
		if q.Publish(sample(i, float32(i))).Dropped {
			dropped++
		}
	}
	require.Equal(t, 3, dropped)

	buf := make([]metrics.Sample, 8)
	n, base, lost := q.Drain(buf)
	require.Equal(t, 2, n)
	assert.Equal(t, uint64(0), base)
	assert.Equal(t, uint64(3), lost, "drops are reported as loss on the next drain")
	assert.Equal(t, uint32(0), buf[0].Sequence)
	assert.Equal(t, uint32(1), buf[1].Sequence)

	// Loss is reported once.
	_, _, lost = q.Drain(buf)
	assert.Equal(t, uint64(0), lost)
}

func TestQueueOverflowFlag(t *testing.T) {
	q := New(16, 4)

	for i := uint32(0); i < 11; i++ {
		res := q.Publish(sample(i, 0))
		assert.False(t, res.Overflow, "write %d below the low-water mark", i)
	}
	require.False(t, q.FlushRequested())

	res := q.Publish(sample(11, 0))
	assert.True(t, res.Overflow)
	assert.True(t, q.FlushRequested())

	buf := make([]metrics.Sample, 16)
	q.Drain(buf)
	q.ClearFlush()
	assert.False(t, q.FlushRequested())
}

func TestQueueBaseIndexAdvances(t *testing.T) {
	q := New(16, 4)
	buf := make([]metrics.Sample, 16)

	for i := uint32(0); i < 3; i++ {
		q.Publish(sample(i, 0))
	}
	_, base, _ := q.Drain(buf)
	require.Equal(t, uint64(0), base)

	for i := uint32(3); i < 5; i++ {
		q.Publish(sample(i, 0))
	}
	n, base, _ := q.Drain(buf)
	require.Equal(t, 2, n)
	assert.Equal(t, uint64(3), base)
}

func TestQueueWakeUnblocksWait(t *testing.T) {
	q := New(16, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Wait(5 * time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Wake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Wake")
	}
}

func TestQueueFlagProtocol(t *testing.T) {
	q := New(16, 4)

	q.MarkReady()
	q.SetActive(true)
	q.RequestFlush()
	require.True(t, q.Active())
	require.True(t, q.FlushRequested())

	q.ClearFlush()
	assert.False(t, q.FlushRequested())
	assert.True(t, q.Active(), "unrelated bits must survive a clear")

	q.SetActive(false)
	assert.False(t, q.Active())

	q.RequestShutdown()
	assert.True(t, q.ShutdownRequested())
}

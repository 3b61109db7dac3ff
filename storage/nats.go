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
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// batchMessage is the JSON payload published per batch.
type batchMessage struct {
	SessionID string          `json:"session_id"`
	Entries   []metrics.Entry `json:"entries"`
}

// NATS publishes drained batches to a NATS subject. Each batch
// carries a deterministic Nats-Msg-Id derived from its session and
// slot range, so a JetStream consumer with duplicate detection treats
// re-delivered batches as idempotent appends.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

// NewNATS connects to the NATS server at url and publishes batches on
// the given subject.
func NewNATS(url, subject string, log *zap.Logger) (*NATS, error) {
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.Name("usg-telemetry-sink"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	return &NATS{conn: conn, subject: subject, log: log}, nil
}

// AppendBatch implements Store.
func (n *NATS) AppendBatch(ctx context.Context, sessionID string, entries []metrics.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	payload, err := json.Marshal(batchMessage{SessionID: sessionID, Entries: entries})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	msg := nats.NewMsg(n.subject)
	msg.Data = payload
	msg.Header.Set("Nats-Msg-Id", fmt.Sprintf("%s-%d-%d",
		sessionID, entries[0].SlotIndex, entries[len(entries)-1].SlotIndex))

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}

	// Respect caller deadlines when the connection is congested.
	if deadline, ok := ctx.Deadline(); ok {
		if err := n.conn.FlushTimeout(time.Until(deadline)); err != nil && err != nats.ErrTimeout {
			return fmt.Errorf("flush batch: %w", err)
		}
	}
	return nil
}

// Close implements Store.
func (n *NATS) Close() error {
	if err := n.conn.Flush(); err != nil {
		n.log.Warn("flush on close failed", zap.Error(err))
	}
	n.conn.Close()
	return nil
}

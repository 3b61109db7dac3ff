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
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/CaCC-Lab/Ultimate-Squash-Game-sub001/metrics"
)

// SQLite is the durable sink backed by a local SQLite file. The
// UNIQUE(session_id, slot_idx) index plus INSERT OR IGNORE makes
// AppendBatch idempotent under re-delivery.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLite opens (or creates) the SQLite file at dbPath and applies
// the samples-table migration. The caller must Close on shutdown.
func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// The modernc.org driver is pure Go and works without CGO.
	dsn := fmt.Sprintf("file:%s?_fk=1", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS samples (
    session_id       TEXT NOT NULL,
    slot_idx         INTEGER NOT NULL,
    metric           TEXT NOT NULL,
    category         TEXT NOT NULL,
    value            REAL NOT NULL,
    ts_ms            REAL NOT NULL,
    seq              INTEGER NOT NULL,
    producer_latency REAL NOT NULL,
    UNIQUE(session_id, slot_idx)
);
CREATE INDEX IF NOT EXISTS idx_samples_session_metric ON samples(session_id, metric);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create samples table: %w", err)
	}
	s.log.Info("sqlite migration applied")
	return nil
}

// AppendBatch implements Store. The whole batch is one transaction;
// re-delivered rows are ignored by the unique index.
func (s *SQLite) AppendBatch(ctx context.Context, sessionID string, entries []metrics.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO samples
(session_id, slot_idx, metric, category, value, ts_ms, seq, producer_latency)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			sessionID,
			e.SlotIndex,
			e.Type.String(),
			e.Category.String(),
			e.Value,
			e.TimestampMs,
			e.Sequence,
			e.ProducerLatency,
		)
		if err != nil {
			return fmt.Errorf("append sample %d: %w", e.SlotIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CountSession returns the number of persisted samples for a session.
func (s *SQLite) CountSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session samples: %w", err)
	}
	return n, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/lane/internal/db"
	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// QueueStore persists the offline queue as a snapshot table. Save replaces
// every row in one transaction, so readers never observe a half-written
// queue.
type QueueStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
	laneID string
}

func NewQueueStore(db *sql.DB, writer *dbpkg.Worker, laneID string) *QueueStore {
	return &QueueStore{db: db, writer: writer, laneID: laneID}
}

func (s *QueueStore) Load(ctx context.Context) ([]types.QueuedRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT request_id, method, endpoint, payload, attached_files, enqueued_at_ms, retry_count
FROM offline_queue
ORDER BY position ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("Load query: %w", err)
	}
	defer rows.Close()

	var out []types.QueuedRequest
	for rows.Next() {
		var (
			req        types.QueuedRequest
			payload    sql.NullString
			files      sql.NullString
			enqueuedMs int64
		)
		if err := rows.Scan(&req.ID, &req.Method, &req.Endpoint, &payload, &files, &enqueuedMs, &req.RetryCount); err != nil {
			return nil, fmt.Errorf("Load scan: %w", err)
		}
		if payload.Valid && payload.String != "" {
			req.Payload = json.RawMessage(payload.String)
		}
		if files.Valid && files.String != "" {
			if err := json.Unmarshal([]byte(files.String), &req.AttachedFiles); err != nil {
				return nil, fmt.Errorf("Load attached_files for %s: %w", req.ID, err)
			}
		}
		req.EnqueuedAt = time.UnixMilli(enqueuedMs).UTC()
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Load rows: %w", err)
	}
	return out, nil
}

func (s *QueueStore) Save(ctx context.Context, reqs []types.QueuedRequest) error {
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_queue;`); err != nil {
			return fmt.Errorf("Save clear: %w", err)
		}

		for i, req := range reqs {
			var payload any
			if len(req.Payload) > 0 {
				payload = string(req.Payload)
			}

			var files any
			if len(req.AttachedFiles) > 0 {
				b, err := json.Marshal(req.AttachedFiles)
				if err != nil {
					return fmt.Errorf("Save encode attached_files for %s: %w", req.ID, err)
				}
				files = string(b)
			}

			enqueued := req.EnqueuedAt
			if enqueued.IsZero() {
				enqueued = time.UnixMilli(nowMs)
			}

			if _, err := tx.ExecContext(ctx, `
INSERT INTO offline_queue(
  request_id, position, method, endpoint, payload, attached_files, enqueued_at_ms, retry_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`, req.ID, i, req.Method, req.Endpoint, payload, files, enqueued.UTC().UnixMilli(), req.RetryCount); err != nil {
				return fmt.Errorf("Save insert %s: %w", req.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO offline_queue_meta(id, lane_id, saved_at_ms, entry_count)
VALUES (1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  lane_id     = excluded.lane_id,
  saved_at_ms = excluded.saved_at_ms,
  entry_count = excluded.entry_count;
`, s.laneID, nowMs, len(reqs)); err != nil {
			return fmt.Errorf("Save meta: %w", err)
		}

		return nil
	})
}

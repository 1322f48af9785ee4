package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/BioHazard786/warpcall/internal/identity"
)

// CallRecord is one finished call.
type CallRecord struct {
	ID        string
	Peers     []identity.ID
	Kind      string
	Direction string
	Reason    string
	// StartedAt is zero when media never connected.
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

// RecordCall stores rec. Recording the same call twice keeps the first.
func (d *DB) RecordCall(ctx context.Context, rec CallRecord) error {
	peers, err := json.Marshal(identity.Strings(rec.Peers))
	if err != nil {
		return err
	}
	var started sql.NullInt64
	if !rec.StartedAt.IsZero() {
		started = sql.NullInt64{Int64: rec.StartedAt.UnixMilli(), Valid: true}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO calls (id, peers, kind, direction, reason, started_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		rec.ID, string(peers), rec.Kind, rec.Direction, rec.Reason,
		started, rec.EndedAt.UnixMilli(), rec.Duration.Milliseconds(),
	)
	return err
}

// History returns the most recent calls first. limit <= 0 returns all.
func (d *DB) History(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, peers, kind, direction, reason, started_at, ended_at, duration_ms
		FROM calls ORDER BY ended_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var (
			rec       CallRecord
			peersJSON string
			started   sql.NullInt64
			ended     int64
			durMs     int64
		)
		if err := rows.Scan(&rec.ID, &peersJSON, &rec.Kind, &rec.Direction, &rec.Reason, &started, &ended, &durMs); err != nil {
			return nil, err
		}
		var peers []string
		if err := json.Unmarshal([]byte(peersJSON), &peers); err != nil {
			return nil, err
		}
		rec.Peers = identity.NormalizeAll(peers)
		if started.Valid {
			rec.StartedAt = time.UnixMilli(started.Int64)
		}
		rec.EndedAt = time.UnixMilli(ended)
		rec.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

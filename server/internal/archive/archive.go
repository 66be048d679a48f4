package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/cyberpulse/cyberpulse/pkg/types"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id    TEXT NOT NULL DEFAULT '',
    ts          INTEGER NOT NULL,
    src_ip      TEXT NOT NULL DEFAULT '',
    dest_ip     TEXT NOT NULL DEFAULT '',
    dest_port   INTEGER,
    username    TEXT NOT NULL DEFAULT '',
    event_type  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    severity    TEXT NOT NULL DEFAULT '',
    ip_risk     TEXT NOT NULL DEFAULT '',
    received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
`,
	},
	{
		// ts moves from Unix nanoseconds to Unix seconds plus ts_nsec, so
		// event times outside 1678..2262 survive a round trip.
		version: 2,
		sql: `
ALTER TABLE events ADD COLUMN ts_nsec INTEGER NOT NULL DEFAULT 0;
UPDATE events SET
    ts_nsec = ((ts % 1000000000) + 1000000000) % 1000000000,
    ts      = (ts - ((ts % 1000000000) + 1000000000) % 1000000000) / 1000000000;
`,
	},
}

// Record is an archived event with its arrival time.
type Record struct {
	Event      types.Event
	ReceivedAt time.Time
}

// Archive is a SQLite-backed event log.
type Archive struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs pending migrations.
// Pass ":memory:" for a throwaway in-memory archive.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: enable WAL: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return a, nil
}

// migrate applies any unapplied migrations in order.
func (a *Archive) migrate() error {
	_, err := a.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := a.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := a.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := a.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

// Insert writes events in a single transaction, all stamped with receivedAt.
func (a *Archive) Insert(ctx context.Context, batchID string, events []types.Event, receivedAt time.Time) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO events(batch_id, ts, ts_nsec, src_ip, dest_ip, dest_port, username, event_type, status, severity, ip_risk, received_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer stmt.Close()

	recv := receivedAt.UnixNano()
	for _, ev := range events {
		var port sql.NullInt64
		if ev.DestPort != nil {
			port = sql.NullInt64{Int64: int64(*ev.DestPort), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			batchID, ev.Timestamp.Unix(), ev.Timestamp.Nanosecond(), ev.SrcIP, ev.DestIP, port, ev.Username,
			string(ev.Type), ev.Status, ev.Severity, ev.IPRisk, recv,
		); err != nil {
			return fmt.Errorf("archive: insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// Since returns the events received at or after t, oldest arrival first.
func (a *Archive) Since(ctx context.Context, t time.Time) ([]Record, error) {
	rows, err := a.db.QueryContext(ctx, `
        SELECT ts, ts_nsec, src_ip, dest_ip, dest_port, username, event_type, status, severity, ip_risk, received_at
        FROM events WHERE received_at >= ? ORDER BY received_at ASC, id ASC`, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			ts, nsec  int64
			recv      int64
			port      sql.NullInt64
			eventType string
		)
		if err := rows.Scan(&ts, &nsec, &rec.Event.SrcIP, &rec.Event.DestIP, &port, &rec.Event.Username,
			&eventType, &rec.Event.Status, &rec.Event.Severity, &rec.Event.IPRisk, &recv); err != nil {
			return nil, fmt.Errorf("archive: scan: %w", err)
		}
		rec.Event.Timestamp = time.Unix(ts, nsec).UTC()
		rec.Event.Type = types.EventType(eventType)
		if port.Valid {
			rec.Event.DestPort = types.Port(int(port.Int64))
		}
		rec.ReceivedAt = time.Unix(0, recv).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: rows: %w", err)
	}
	return out, nil
}

// Prune deletes events received before the cutoff and returns how many were removed.
func (a *Archive) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM events WHERE received_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("archive: prune: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of archived events.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

// RunPruner deletes events older than retention every interval until ctx is
// cancelled.
func (a *Archive) RunPruner(ctx context.Context, retention, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := a.Prune(ctx, now.Add(-retention))
			if err != nil {
				slog.Warn("archive: prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("archive: pruned events", "count", n)
			}
		}
	}
}

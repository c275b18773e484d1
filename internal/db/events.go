package db

import (
	"database/sql"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// StatusEvent is one recorded login status transition.
type StatusEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SID       string    `json:"sid"`
	From      string    `json:"from_status,omitempty"`
	To        string    `json:"to_status"`
	Message   string    `json:"message,omitempty"`
	Link      string    `json:"link,omitempty"`
	Phone     string    `json:"phone,omitempty"`
}

// Run is one gateway process lifetime.
type Run struct {
	ID        int64      `json:"id"`
	SID       string     `json:"sid"`
	RunID     string     `json:"run_id"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
}

// RecordStatus appends e to the journal. A zero timestamp means now.
func (d *DB) RecordStatus(e StatusEvent) error {
	if d == nil || d.conn == nil {
		return fmt.Errorf("db is nil")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := d.conn.Exec(`
INSERT INTO status_events (timestamp, sid, from_status, to_status, message, link, phone)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(timeLayout), e.SID, e.From, e.To, e.Message, e.Link, e.Phone)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first. An empty sid
// returns events of every account.
func (d *DB) RecentEvents(sid string, limit int) ([]StatusEvent, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, timestamp, sid, from_status, to_status, message, link, phone FROM status_events`
	args := []any{}
	if sid != "" {
		query += ` WHERE sid = ?`
		args = append(args, sid)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status events: %w", err)
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var e StatusEvent
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.SID, &e.From, &e.To, &e.Message, &e.Link, &e.Phone); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse event timestamp %q: %w", ts, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status events: %w", err)
	}
	return out, nil
}

// PruneEvents deletes events older than cutoff and reports how many went.
func (d *DB) PruneEvents(cutoff time.Time) (int64, error) {
	if d == nil || d.conn == nil {
		return 0, fmt.Errorf("db is nil")
	}
	res, err := d.conn.Exec(`DELETE FROM status_events WHERE timestamp < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune status events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartRun records a gateway spawn and returns the row id.
func (d *DB) StartRun(sid, runID string, pid int, at time.Time) (int64, error) {
	if d == nil || d.conn == nil {
		return 0, fmt.Errorf("db is nil")
	}
	res, err := d.conn.Exec(`INSERT INTO gateway_runs (sid, run_id, pid, started_at) VALUES (?, ?, ?, ?)`,
		sid, runID, pid, at.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert gateway run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("gateway run id: %w", err)
	}
	return id, nil
}

// FinishRun records how a gateway run ended.
func (d *DB) FinishRun(id int64, exitCode int, outcome string, at time.Time) error {
	if d == nil || d.conn == nil {
		return fmt.Errorf("db is nil")
	}
	_, err := d.conn.Exec(`UPDATE gateway_runs SET ended_at = ?, exit_code = ?, outcome = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), exitCode, outcome, id)
	if err != nil {
		return fmt.Errorf("update gateway run %d: %w", id, err)
	}
	return nil
}

// RecentRuns returns up to limit runs of sid, newest first.
func (d *DB) RecentRuns(sid string, limit int) ([]Run, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(`
SELECT id, sid, run_id, pid, started_at, ended_at, exit_code, outcome
FROM gateway_runs WHERE sid = ? ORDER BY id DESC LIMIT ?`, sid, limit)
	if err != nil {
		return nil, fmt.Errorf("query gateway runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		var ended sql.NullString
		var code sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SID, &r.RunID, &r.PID, &started, &ended, &code, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan gateway run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse run start %q: %w", started, err)
		}
		if ended.Valid {
			t, err := time.Parse(timeLayout, ended.String)
			if err != nil {
				return nil, fmt.Errorf("parse run end %q: %w", ended.String, err)
			}
			r.EndedAt = &t
		}
		if code.Valid {
			c := int(code.Int64)
			r.ExitCode = &c
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gateway runs: %w", err)
	}
	return out, nil
}

package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session records one runtime from start to close.
type Session struct {
	ID             string     `json:"id"`
	RequestedMode  string     `json:"requestedMode"`
	Mode           string     `json:"mode"`
	Reason         string     `json:"reason"`
	TargetFPS      float64    `json:"targetFps"`
	Delivered      uint64     `json:"delivered"`
	Dropped        uint64     `json:"dropped"`
	Errors         uint64     `json:"errors"`
	AverageFPS     float64    `json:"averageFps"`
	FallbackReason string     `json:"fallbackReason,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
}

// SessionTotals are the counters written when a session ends.
type SessionTotals struct {
	Delivered      uint64
	Dropped        uint64
	Errors         uint64
	AverageFPS     float64
	FallbackReason string
}

// SessionRepository provides access to sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

const sessionColumns = `id, requested_mode, mode, reason, target_fps, delivered, dropped, errors,
	average_fps, fallback_reason, started_at, ended_at`

// Create inserts a new session, assigning an ID and start time when unset.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, requested_mode, mode, reason, target_fps, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RequestedMode, sess.Mode, sess.Reason, sess.TargetFPS, sess.StartedAt,
	)
	return err
}

// Finish writes the final counters and end time of a session.
func (r *SessionRepository) Finish(id string, totals SessionTotals, endedAt time.Time) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET delivered = ?, dropped = ?, errors = ?, average_fps = ?,
		 fallback_reason = ?, ended_at = ?
		 WHERE id = ?`,
		int64(totals.Delivered), int64(totals.Dropped), int64(totals.Errors), totals.AverageFPS,
		totals.FallbackReason, endedAt, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RecordFallback stores the fallback reason as soon as it is known, so a
// crash before Finish still keeps it.
func (r *SessionRepository) RecordFallback(id, reason string) error {
	result, err := r.db.Exec(`UPDATE sessions SET fallback_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List returns the most recent sessions first. A limit <= 0 returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var delivered, dropped, errs int64
	var endedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.RequestedMode, &sess.Mode, &sess.Reason, &sess.TargetFPS,
		&delivered, &dropped, &errs, &sess.AverageFPS, &sess.FallbackReason, &sess.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	sess.Delivered = uint64(delivered)
	sess.Dropped = uint64(dropped)
	sess.Errors = uint64(errs)
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return sess, nil
}

package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session is one producer run of one camera.
type Session struct {
	ID        string
	Camera    string
	Backend   string
	StartedAt time.Time
	EndedAt   *time.Time
	Frames    int64
	Dropped   int64
	EndReason string
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start inserts a new open session for camera and returns it.
func (r *SessionRepository) Start(camera, backend string) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		Camera:    camera,
		Backend:   backend,
		StartedAt: time.Now(),
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, camera, backend, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Camera, sess.Backend, sess.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Finish closes a session with its final counters.
func (r *SessionRepository) Finish(id string, frames, dropped int64, reason string) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames = ?, dropped = ?, end_reason = ? WHERE id = ?`,
		time.Now(), frames, dropped, reason, id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, camera, backend, started_at, ended_at, frames, dropped, end_reason
		 FROM sessions WHERE id = ?`,
		id,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List retrieves the most recent sessions, newest first.
func (r *SessionRepository) List(limit int) ([]Session, error) {
	rows, err := r.db.Query(
		`SELECT id, camera, backend, started_at, ended_at, frames, dropped, end_reason
		 FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess  Session
		ended sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.Camera, &sess.Backend, &sess.StartedAt, &ended,
		&sess.Frames, &sess.Dropped, &sess.EndReason)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

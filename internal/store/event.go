package store

import (
	"database/sql"
	"time"
)

// ReconnectEvent is one reconnection attempt. Error is empty for the
// attempt that succeeded.
type ReconnectEvent struct {
	ID        int64
	Camera    string
	Attempt   int
	Error     string
	CreatedAt time.Time
}

// EventRepository provides operations for reconnect events.
type EventRepository struct {
	db *sql.DB
}

// Events returns the reconnect event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts an event.
func (r *EventRepository) Create(e *ReconnectEvent) error {
	e.CreatedAt = time.Now()
	result, err := r.db.Exec(
		`INSERT INTO reconnect_events (camera, attempt, error, created_at) VALUES (?, ?, ?, ?)`,
		e.Camera, e.Attempt, e.Error, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	e.ID, err = result.LastInsertId()
	return err
}

// GetByCamera retrieves events for camera, oldest first.
func (r *EventRepository) GetByCamera(camera string) ([]ReconnectEvent, error) {
	rows, err := r.db.Query(
		`SELECT id, camera, attempt, error, created_at
		 FROM reconnect_events WHERE camera = ? ORDER BY id`,
		camera,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ReconnectEvent
	for rows.Next() {
		var e ReconnectEvent
		if err := rows.Scan(&e.ID, &e.Camera, &e.Attempt, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

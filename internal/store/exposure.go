package store

import (
	"database/sql"
)

// ExposureSample is one pair of exposures the loop wrote to the sensor.
type ExposureSample struct {
	ID        int64
	SessionID string
	Timestamp float64
	Left      int
	Right     int
}

// ExposureRepository provides operations for exposure samples.
type ExposureRepository struct {
	db *sql.DB
}

// Exposures returns the exposure sample repository for this store.
func (s *Store) Exposures() *ExposureRepository {
	return &ExposureRepository{db: s.db}
}

// Create inserts samples for a session in a single transaction.
func (r *ExposureRepository) Create(sessionID string, samples []ExposureSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO exposure_samples (session_id, timestamp, left_value, right_value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.Exec(sessionID, s.Timestamp, s.Left, s.Right); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBySessionID retrieves all samples for a session in timestamp order.
func (r *ExposureRepository) GetBySessionID(sessionID string) ([]ExposureSample, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, timestamp, left_value, right_value
		 FROM exposure_samples
		 WHERE session_id = ?
		 ORDER BY timestamp, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []ExposureSample
	for rows.Next() {
		var s ExposureSample
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Timestamp, &s.Left, &s.Right); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

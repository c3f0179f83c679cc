package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per producer run of one camera
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			camera TEXT NOT NULL,
			backend TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frames INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT ''
		)`,

		// Exposure samples table - exposures the auto-exposure loop applied
		`CREATE TABLE IF NOT EXISTS exposure_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			timestamp REAL NOT NULL,
			left_value INTEGER NOT NULL,
			right_value INTEGER NOT NULL
		)`,

		// Reconnect events table - failed and successful reconnection attempts
		`CREATE TABLE IF NOT EXISTS reconnect_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_exposure_samples_session_id ON exposure_samples(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_camera ON sessions(camera)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

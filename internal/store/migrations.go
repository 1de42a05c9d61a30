package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per runtime lifetime
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			requested_mode TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL CHECK(mode IN ('main-thread', 'worker')),
			reason TEXT NOT NULL DEFAULT '',
			target_fps REAL NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			dropped INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			average_fps REAL NOT NULL DEFAULT 0,
			fallback_reason TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

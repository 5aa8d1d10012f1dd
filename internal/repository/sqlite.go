package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS community_alerts (
			id TEXT PRIMARY KEY,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			admin_name TEXT NOT NULL,
			admin_email TEXT NOT NULL,
			priority TEXT NOT NULL,
			affected_areas TEXT,
			target_users TEXT,
			target_areas TEXT,
			expires_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_community_alerts_created_at ON community_alerts(created_at);
		CREATE INDEX IF NOT EXISTS idx_community_alerts_expires_at ON community_alerts(expires_at);
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS eeprom (
	id INTEGER PRIMARY KEY CHECK(id=1),
	image BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS relay_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	relay INTEGER NOT NULL,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS relay_events_at ON relay_events(at);
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: databases shared.
	dbConn.SetMaxOpenConns(1)

	if err := EnsureSchema(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}

func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

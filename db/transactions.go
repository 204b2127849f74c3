package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// SaveEEPROM replaces the stored config image.
func SaveEEPROM(db *sql.DB, image []byte) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO eeprom (id, image, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET image = excluded.image, updated_at = excluded.updated_at`,
		image, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("save eeprom image: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit eeprom image: %w", err)
	}
	return nil
}

func InsertRelayEvent(db *sql.DB, e model.RelayEvent) error {
	_, err := db.Exec(`INSERT INTO relay_events (at, relay, kind, state, detail) VALUES (?, ?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Relay, e.Kind, string(e.State), e.Detail)
	if err != nil {
		return fmt.Errorf("insert relay event: %w", err)
	}
	return nil
}

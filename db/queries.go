package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// LoadEEPROM returns the stored config image, or nil if none was ever saved.
func LoadEEPROM(db *sql.DB) ([]byte, error) {
	var image []byte
	err := db.QueryRow(`SELECT image FROM eeprom WHERE id = 1`).Scan(&image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load eeprom image: %w", err)
	}
	return image, nil
}

// GetRelayEvents returns the most recent events, newest first.
func GetRelayEvents(db *sql.DB, limit int) ([]model.RelayEvent, error) {
	rows, err := db.Query(`SELECT at, relay, kind, state, detail FROM relay_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay events: %w", err)
	}
	defer rows.Close()

	var events []model.RelayEvent
	for rows.Next() {
		var e model.RelayEvent
		var at, state string
		if err := rows.Scan(&at, &e.Relay, &e.Kind, &state, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan relay event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.State = model.RelayState(state)
		events = append(events, e)
	}
	return events, rows.Err()
}

package db

import "database/sql"

// EEPROM adapts the eeprom table to the config store's load/save backend.
type EEPROM struct {
	DB *sql.DB
}

func (e EEPROM) Load() ([]byte, error) {
	return LoadEEPROM(e.DB)
}

func (e EEPROM) Save(image []byte) error {
	return SaveEEPROM(e.DB, image)
}

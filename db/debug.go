package db

import (
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/configstore"
	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// WithDB opens the database at dbPath for a one-off CLI operation.
func WithDB(dbPath string, fn func(*sql.DB) error) error {
	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	return fn(dbConn)
}

func withStore(dbPath string, defaults model.SystemConfig, fn func(*configstore.Store) error) error {
	return WithDB(dbPath, func(dbConn *sql.DB) error {
		store := configstore.New(EEPROM{DB: dbConn}, defaults)
		if _, err := store.Load(); err != nil {
			return err
		}
		return fn(store)
	})
}

func ShowConfigCLI(w io.Writer, dbPath string, defaults model.SystemConfig) error {
	return withStore(dbPath, defaults, func(store *configstore.Store) error {
		printConfig(w, store.Current())
		return nil
	})
}

func SetPollDelayCLI(w io.Writer, dbPath string, defaults model.SystemConfig, channel string, delayMs int64) error {
	var a, b *int64
	switch model.SensorID(channel) {
	case model.SensorA:
		a = &delayMs
	case model.SensorB:
		b = &delayMs
	default:
		return fmt.Errorf("unknown channel %q, expected a or b", channel)
	}
	return withStore(dbPath, defaults, func(store *configstore.Store) error {
		updated, err := store.SetPollDelaysMillis(a, b)
		if err != nil {
			return err
		}
		printConfig(w, updated)
		return nil
	})
}

func SetWifiCLI(w io.Writer, dbPath string, defaults model.SystemConfig, ssid, password string) error {
	return withStore(dbPath, defaults, func(store *configstore.Store) error {
		updated, err := store.SetWifi(ssid, password)
		if err != nil {
			return err
		}
		printConfig(w, updated)
		return nil
	})
}

func FactoryResetCLI(w io.Writer, dbPath string, defaults model.SystemConfig) error {
	return withStore(dbPath, defaults, func(store *configstore.Store) error {
		if err := store.FactoryReset(); err != nil {
			return err
		}
		printConfig(w, store.Current())
		return nil
	})
}

func EventsCLI(w io.Writer, dbPath string, limit int) error {
	return WithDB(dbPath, func(dbConn *sql.DB) error {
		events, err := GetRelayEvents(dbConn, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(w, "no relay events")
			return nil
		}
		for _, e := range events {
			fmt.Fprintf(w, "%s  relay=%d  %-20s %-15s %s\n", e.At.Format(time.RFC3339), e.Relay, e.Kind, e.State, e.Detail)
		}
		return nil
	})
}

func printConfig(w io.Writer, c model.SystemConfig) {
	password := "(unset)"
	if c.WifiPassword != "" {
		password = "(set)"
	}
	fmt.Fprintf(w, "sensor_poll_delay_a: %s\n", c.SensorPollDelayA)
	fmt.Fprintf(w, "sensor_poll_delay_b: %s\n", c.SensorPollDelayB)
	fmt.Fprintf(w, "wifi_ssid:           %s\n", c.WifiSSID)
	fmt.Fprintf(w, "wifi_password:       %s\n", password)
}

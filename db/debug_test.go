package db

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

var cliDefaults = model.SystemConfig{SensorPollDelayA: time.Second, SensorPollDelayB: time.Second, WifiSSID: "tank"}

func TestConfigCLI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank.db")
	var out bytes.Buffer

	require.NoError(t, SetPollDelayCLI(&out, path, cliDefaults, "b", 2500))
	assert.Contains(t, out.String(), "sensor_poll_delay_b: 2.5s")

	out.Reset()
	require.NoError(t, SetWifiCLI(&out, path, cliDefaults, "barn", "hunter22"))
	assert.Contains(t, out.String(), "wifi_ssid:           barn")
	assert.Contains(t, out.String(), "wifi_password:       (set)")
	assert.NotContains(t, out.String(), "hunter22")

	out.Reset()
	require.NoError(t, ShowConfigCLI(&out, path, cliDefaults))
	assert.Contains(t, out.String(), "sensor_poll_delay_b: 2.5s")
	assert.Contains(t, out.String(), "barn")

	out.Reset()
	require.NoError(t, FactoryResetCLI(&out, path, cliDefaults))
	assert.Contains(t, out.String(), "sensor_poll_delay_b: 1s")
	assert.Contains(t, out.String(), "wifi_ssid:           tank")
}

func TestSetPollDelayCLI_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank.db")
	var out bytes.Buffer

	assert.Error(t, SetPollDelayCLI(&out, path, cliDefaults, "c", 1000))
	assert.Error(t, SetPollDelayCLI(&out, path, cliDefaults, "a", 5))
}

func TestEventsCLI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tank.db")
	var out bytes.Buffer

	require.NoError(t, EventsCLI(&out, path, 10))
	assert.Equal(t, "no relay events\n", out.String())

	require.NoError(t, WithDB(path, func(dbConn *sql.DB) error {
		return InsertRelayEvent(dbConn, model.RelayEvent{
			At: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Relay: 2, Kind: model.EventFaultLockout, State: model.RelayFaultLocked, Detail: "sensorBTimeout",
		})
	}))

	out.Reset()
	require.NoError(t, EventsCLI(&out, path, 10))
	assert.Contains(t, out.String(), "2025-01-01T00:00:00Z  relay=2  fault_lockout")
	assert.Contains(t, out.String(), "sensorBTimeout")
}

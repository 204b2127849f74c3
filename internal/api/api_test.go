package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/tank-controller/db"
	"github.com/thatsimonsguy/tank-controller/internal/configstore"
	"github.com/thatsimonsguy/tank-controller/internal/metrics"
	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/relay"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
	"github.com/thatsimonsguy/tank-controller/internal/telemetry"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type nopOutputs struct{}

func (nopOutputs) Set(model.GPIOPin, bool) error { return nil }

type noFaults struct{}

func (noFaults) Faults() model.FaultSet { return 0 }

type testEnv struct {
	server   *Server
	handler  http.Handler
	db       *sql.DB
	relays   *relay.Controller
	store    *configstore.Store
	rejected []string
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := configstore.New(db.EEPROM{DB: database}, model.SystemConfig{
		SensorPollDelayA: time.Second,
		SensorPollDelayB: time.Second,
		WifiSSID:         "tank",
		WifiPassword:     "secret",
	})
	_, err = store.Load()
	require.NoError(t, err)

	relays := relay.NewController(nopOutputs{}, 5*time.Minute,
		relay.Channel{Name: "pump", Relay: model.GPIOPin{Number: 25, ActiveHigh: true}, InterlockWith: model.SensorA},
		relay.Channel{Name: "valve", Relay: model.GPIOPin{Number: 26, ActiveHigh: true}, InterlockWith: model.SensorB},
	)
	relays.SetJournal(db.SyncJournal{DB: database})

	enc := telemetry.NewEncoder(t0, 1024, 5*time.Second, nil)
	d := telemetry.NewDispatcher(relays, store)
	tel := telemetry.NewServer(telemetry.HubConfig{MaxClients: 4, PingInterval: time.Hour, PongTimeout: time.Second, WriteTimeout: time.Second, MaxMessage: 1024},
		t0, enc, d, sensor.NewStatus(t0), relays, noFaults{})

	env := &testEnv{db: database, relays: relays, store: store}
	env.server = NewServer(database, tel, relays, store, metrics.New(nil).Handler())
	env.server.now = func() time.Time { return t0 }
	env.server.OnRejected = func(reason string) { env.rejected = append(env.rejected, reason) }
	env.handler = env.server.Router()
	return env
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestGetStatus(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodGet, "/api/status", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var rec telemetry.StatusRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "status", rec.Type)
	assert.Len(t, rec.Relays, 2)
}

func TestGetRelays(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodGet, "/api/relays", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var relays []model.RelayChannel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &relays))
	require.Len(t, relays, 2)
	assert.Equal(t, "pump", relays[0].Name)
	assert.Equal(t, model.RelayOff, relays[0].State)
}

func TestSetRelay(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name           string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{"turn on", "/api/relays/1", RelayCommandRequest{DesiredState: model.DesiredOn}, http.StatusOK},
		{"turn off", "/api/relays/1", RelayCommandRequest{DesiredState: model.DesiredOff}, http.StatusOK},
		{"bad state", "/api/relays/1", RelayCommandRequest{DesiredState: "toggle"}, http.StatusBadRequest},
		{"unknown relay", "/api/relays/9", RelayCommandRequest{DesiredState: model.DesiredOn}, http.StatusNotFound},
		{"invalid json", "/api/relays/1", "not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	ch, err := env.relays.Channel(1)
	require.NoError(t, err)
	assert.Equal(t, model.RelayOff, ch.State)
	assert.Equal(t, []string{"invalid", "unknown_relay"}, env.rejected)
}

func TestResetRelay(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodPost, "/api/relays/1/reset", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w), "relay is not locked out")

	_, err := env.relays.CommandOn(1, true, t0)
	require.NoError(t, err)
	env.relays.Tick(t0.Add(5 * time.Minute))

	w = env.do(http.MethodPost, "/api/relays/1/reset", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPut, "/api/relays/1", RelayCommandRequest{DesiredState: model.DesiredOff})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/api/relays/1/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ch model.RelayChannel
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ch))
	assert.Equal(t, model.RelayOff, ch.State)

	w = env.do(http.MethodGet, "/api/events?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []model.RelayEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []string{model.EventReset, model.EventResetRejected, model.EventOverrunLockout}, kinds)
}

func TestGetConfigRedactsPassword(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodGet, "/api/config", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tank", resp.WifiSSID)
	assert.Equal(t, "********", resp.WifiPassword)
	assert.Equal(t, int64(1000), resp.SensorPollDelayA)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestSetPollDelays(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedA      time.Duration
		expectedB      time.Duration
	}{
		{"update one", `{"sensorPollDelayA":250}`, http.StatusOK, 250 * time.Millisecond, time.Second},
		{"update both", `{"sensorPollDelayA":2000,"sensorPollDelayB":3000}`, http.StatusOK, 2 * time.Second, 3 * time.Second},
		{"too small", `{"sensorPollDelayB":10}`, http.StatusBadRequest, 2 * time.Second, 3 * time.Second},
		{"wraps when converted", `{"sensorPollDelayA":288230376151712744}`, http.StatusBadRequest, 2 * time.Second, 3 * time.Second},
		{"empty", `{}`, http.StatusBadRequest, 2 * time.Second, 3 * time.Second},
		{"invalid json", `nope`, http.StatusBadRequest, 2 * time.Second, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPut, "/api/config/poll-delays", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)

			cur := env.store.Current()
			assert.Equal(t, tt.expectedA, cur.SensorPollDelayA)
			assert.Equal(t, tt.expectedB, cur.SensorPollDelayB)
		})
	}

	// persisted, not just in memory
	reloaded := configstore.New(db.EEPROM{DB: env.db}, model.SystemConfig{})
	cfg, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.SensorPollDelayB)
}

func TestSetWifi(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodPut, "/api/config/wifi", WifiRequest{SSID: "barn", Password: "hunter22"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "barn", env.store.Current().WifiSSID)

	w = env.do(http.MethodPut, "/api/config/wifi", WifiRequest{SSID: "this-ssid-is-definitely-longer-than-32-bytes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "barn", env.store.Current().WifiSSID)
}

func TestGetEventsLimit(t *testing.T) {
	env := setupTestServer(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.InsertRelayEvent(env.db, model.RelayEvent{At: t0, Relay: 1, Kind: model.EventReset, State: model.RelayOff}))
	}

	tests := []struct {
		query          string
		expectedStatus int
		expectedLen    int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
		{fmt.Sprintf("?limit=%d", maxEventLimit+1), http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/events"+tt.query, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var events []model.RelayEvent
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
				assert.Len(t, events, tt.expectedLen)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Faults)

	w = env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodDelete, "/api/relays/1"},
		{http.MethodGet, "/api/relays/1/reset"},
		{http.MethodPost, "/api/config"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := env.do(tt.method, tt.path, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/relays/1", nil)
	req.Header.Set("Origin", "http://tank.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

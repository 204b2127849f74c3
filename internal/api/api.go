package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/db"
	"github.com/thatsimonsguy/tank-controller/internal/configstore"
	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/relay"
	"github.com/thatsimonsguy/tank-controller/internal/telemetry"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	redacted          = "********"
)

type Relays interface {
	CommandOn(id int, on bool, now time.Time) (model.RelayChannel, error)
	Reset(id int, now time.Time) (model.RelayChannel, error)
	Snapshot() []model.RelayChannel
}

type Settings interface {
	Current() model.SystemConfig
	SetPollDelaysMillis(a, b *int64) (model.SystemConfig, error)
	SetWifi(ssid, password string) (model.SystemConfig, error)
}

type Server struct {
	db        *sql.DB
	telemetry *telemetry.Server
	relays    Relays
	settings  Settings
	metrics   http.Handler
	now       func() time.Time

	// OnRejected observes refused relay and config requests.
	OnRejected func(reason string)
}

type RelayCommandRequest struct {
	DesiredState model.DesiredState `json:"desiredState"`
}

type PollDelaysRequest = telemetry.SettingsUpdate

type WifiRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

type ConfigResponse struct {
	SensorPollDelayA int64  `json:"sensorPollDelayA"`
	SensorPollDelayB int64  `json:"sensorPollDelayB"`
	WifiSSID         string `json:"wifiSsid"`
	WifiPassword     string `json:"wifiPassword"`
}

type HealthResponse struct {
	Status  string   `json:"status"`
	Faults  []string `json:"faults"`
	Clients int      `json:"clients"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, tel *telemetry.Server, relays Relays, settings Settings, metrics http.Handler) *Server {
	return &Server{
		db:         database,
		telemetry:  tel,
		relays:     relays,
		settings:   settings,
		metrics:    metrics,
		now:        time.Now,
		OnRejected: func(string) {},
	}
}

// Router wires every route behind CORS and panic recovery.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	r.Handle("/ws", s.telemetry.Hub).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	a.HandleFunc("/relays", s.getRelays).Methods(http.MethodGet)
	a.HandleFunc("/relays/{id:[0-9]+}", s.setRelay).Methods(http.MethodPut)
	a.HandleFunc("/relays/{id:[0-9]+}/reset", s.resetRelay).Methods(http.MethodPost)
	a.HandleFunc("/config", s.getConfig).Methods(http.MethodGet)
	a.HandleFunc("/config/poll-delays", s.setPollDelays).Methods(http.MethodPut)
	a.HandleFunc("/config/wifi", s.setWifi).Methods(http.MethodPut)
	a.HandleFunc("/events", s.getEvents).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	recovery := handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))
	return recovery(cors(r))
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context, port int, headerTimeout time.Duration) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.CombinedLoggingHandler(log.Logger, s.Router()),
		ReadHeaderTimeout: headerTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
	}()

	log.Info().Str("address", addr).Msg("Starting REST API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	st := s.telemetry.State()
	faults := st.Faults.Names()
	if faults == nil {
		faults = []string{}
	}
	status := "ok"
	if !st.Faults.Empty() {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: status, Faults: faults, Clients: s.telemetry.Hub.Count()})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	record, err := s.telemetry.Status()
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode status record")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(record)
}

func (s *Server) getRelays(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relays.Snapshot())
}

func (s *Server) setRelay(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	var req RelayCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if !req.DesiredState.Valid() {
		s.OnRejected("invalid")
		s.writeError(w, http.StatusBadRequest, `desiredState must be "on" or "off"`)
		return
	}

	ch, err := s.relays.CommandOn(id, req.DesiredState == model.DesiredOn, s.now())
	if err != nil {
		s.relayError(w, id, err)
		return
	}
	log.Info().Int("relay", id).Str("desired", string(req.DesiredState)).Str("state", string(ch.State)).Msg("Relay command applied via API")
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) resetRelay(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(mux.Vars(r)["id"])

	ch, err := s.relays.Reset(id, s.now())
	if err != nil {
		s.relayError(w, id, err)
		return
	}
	log.Info().Int("relay", id).Msg("Relay reset via API")
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) relayError(w http.ResponseWriter, id int, err error) {
	s.OnRejected(telemetry.RejectReason(err))
	log.Warn().Err(err).Int("relay", id).Msg("Relay request rejected")
	switch {
	case errors.Is(err, relay.ErrUnknownRelay):
		s.writeError(w, http.StatusNotFound, "Relay not found")
	case errors.Is(err, relay.ErrNotLocked):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusConflict, err.Error())
	}
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, configResponse(s.settings.Current()))
}

func (s *Server) setPollDelays(w http.ResponseWriter, r *http.Request) {
	var req PollDelaysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.SensorPollDelayA == nil && req.SensorPollDelayB == nil {
		s.writeError(w, http.StatusBadRequest, "At least one poll delay is required")
		return
	}

	updated, err := s.settings.SetPollDelaysMillis(req.SensorPollDelayA, req.SensorPollDelayB)
	if err != nil {
		s.configError(w, err)
		return
	}
	log.Info().Dur("poll_delay_a", updated.SensorPollDelayA).Dur("poll_delay_b", updated.SensorPollDelayB).Msg("Poll delays updated via API")
	s.writeJSON(w, http.StatusOK, configResponse(updated))
}

func (s *Server) setWifi(w http.ResponseWriter, r *http.Request) {
	var req WifiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	updated, err := s.settings.SetWifi(req.SSID, req.Password)
	if err != nil {
		s.configError(w, err)
		return
	}
	log.Info().Str("ssid", req.SSID).Msg("Wifi credentials updated via API")
	s.writeJSON(w, http.StatusOK, configResponse(updated))
}

func (s *Server) configError(w http.ResponseWriter, err error) {
	if errors.Is(err, configstore.ErrInvalidConfig) {
		s.OnRejected("invalid_config")
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Error().Err(err).Msg("Failed to persist config")
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxEventLimit))
			return
		}
		limit = n
	}

	events, err := db.GetRelayEvents(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get relay events")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []model.RelayEvent{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func configResponse(c model.SystemConfig) ConfigResponse {
	resp := ConfigResponse{
		SensorPollDelayA: c.SensorPollDelayA.Milliseconds(),
		SensorPollDelayB: c.SensorPollDelayB.Milliseconds(),
		WifiSSID:         c.WifiSSID,
	}
	if c.WifiPassword != "" {
		resp.WifiPassword = redacted
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

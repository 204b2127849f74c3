package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thatsimonsguy/tank-controller/internal/fault"
	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
)

var relayStates = []model.RelayState{model.RelayOff, model.RelayOn, model.RelayOverrunLocked, model.RelayFaultLocked}

// Metrics holds the controller's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	tanks    map[model.SensorID]sensor.Tank

	polls            *prometheus.CounterVec
	distance         *prometheus.GaugeVec
	fill             *prometheus.GaugeVec
	relayState       *prometheus.GaugeVec
	faultActive      *prometheus.GaugeVec
	commandsRejected *prometheus.CounterVec
	clients          prometheus.Gauge
	broadcasts       prometheus.Counter
	clientsDropped   *prometheus.CounterVec
}

func New(tanks map[model.SensorID]sensor.Tank) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tanks:    tanks,
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_sensor_polls_total",
			Help: "Sensor polls by channel and resulting status.",
		}, []string{"channel", "status"}),
		distance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_sensor_distance_mm",
			Help: "Last valid distance reading.",
		}, []string{"channel"}),
		fill: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_fill_percent",
			Help: "Fill level derived from the last valid reading.",
		}, []string{"channel"}),
		relayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_relay_state",
			Help: "1 for the state each relay is currently in.",
		}, []string{"relay", "state"}),
		faultActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tank_fault_active",
			Help: "1 while the named fault is present.",
		}, []string{"fault"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_commands_rejected_total",
			Help: "Remote commands rejected, by reason.",
		}, []string{"reason"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tank_ws_clients",
			Help: "Connected telemetry clients.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tank_telemetry_broadcasts_total",
			Help: "Status records broadcast to clients.",
		}),
		clientsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tank_ws_clients_dropped_total",
			Help: "Telemetry clients disconnected by the server, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		m.polls, m.distance, m.fill, m.relayState, m.faultActive,
		m.commandsRejected, m.clients, m.broadcasts, m.clientsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReading is wired as the acquisition task's OnReading hook.
func (m *Metrics) ObserveReading(id model.SensorID, r model.SensorReading) {
	ch := string(id)
	m.polls.WithLabelValues(ch, string(r.Status)).Inc()
	if !r.Valid() {
		return
	}
	m.distance.WithLabelValues(ch).Set(float64(r.ValueMm))
	if pct, ok := sensor.FillPercent(r, m.tanks[id]); ok {
		m.fill.WithLabelValues(ch).Set(pct)
	}
}

func (m *Metrics) ObserveCycle(c fault.Cycle) {
	for name, on := range c.Faults.Flags() {
		m.faultActive.WithLabelValues(name).Set(gauge(on))
	}
	for _, ch := range c.Relays {
		for _, s := range relayStates {
			m.relayState.WithLabelValues(ch.Name, string(s)).Set(gauge(ch.State == s))
		}
	}
}

func (m *Metrics) CommandRejected(reason string) {
	m.commandsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetClients(n int) {
	m.clients.Set(float64(n))
}

func (m *Metrics) Broadcast() {
	m.broadcasts.Inc()
}

func (m *Metrics) ClientDropped(reason string) {
	m.clientsDropped.WithLabelValues(reason).Inc()
}

func gauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package datadog

import (
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/env"
	"github.com/thatsimonsguy/tank-controller/internal/fault"
	"github.com/thatsimonsguy/tank-controller/internal/model"
)

var dogstatsd *statsd.Client

func InitMetrics() {
	var err error
	dogstatsd, err = statsd.New(env.Cfg.DDAgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = env.Cfg.DDNamespace
	dogstatsd.Tags = env.Cfg.DDTags

	log.Info().
		Str("addr", env.Cfg.DDAgentAddr).
		Str("namespace", env.Cfg.DDNamespace).
		Strs("tags", env.Cfg.DDTags).
		Msg("Datadog metrics initialized")
}

func Close() {
	if dogstatsd != nil {
		if err := dogstatsd.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to flush DogStatsD client")
		}
		dogstatsd = nil
	}
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		err := dogstatsd.Gauge(name, value, tags, 1)
		if err != nil && env.Cfg.EnableDatadog {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

// Reporter emits per-cycle gauges, throttled to every Nth monitor cycle.
// Readings older than sensorTimeout are reported as invalid.
type Reporter struct {
	every         int
	sensorTimeout time.Duration
	n             int
}

func NewReporter(every int, sensorTimeout time.Duration) *Reporter {
	if every < 1 {
		every = 1
	}
	return &Reporter{every: every, sensorTimeout: sensorTimeout}
}

func (r *Reporter) ObserveCycle(c fault.Cycle) {
	r.n++
	if r.n%r.every != 0 && !c.Raised() && !c.Cleared() {
		return
	}

	for _, id := range model.SensorIDs {
		reading := c.Sensors.Reading(id).Effective(c.Now, r.sensorTimeout)
		tag := "channel:" + string(id)
		Gauge("sensor.valid", boolGauge(reading.Valid()), tag)
		if reading.Valid() {
			Gauge("sensor.distance_mm", float64(reading.ValueMm), tag)
		}
	}
	for _, ch := range c.Relays {
		tags := []string{"relay:" + ch.Name}
		Gauge("relay.on", boolGauge(ch.ActualOn), tags...)
		Gauge("relay.locked", boolGauge(ch.LockedOut()), tags...)
	}
	Gauge("faults.active", float64(len(c.Faults.Names())))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

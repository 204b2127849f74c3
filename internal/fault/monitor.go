package fault

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
)

type SensorSource interface {
	Snapshot() sensor.Snapshot
}

type RelayController interface {
	Tick(now time.Time)
	ApplyFaults(faults model.FaultSet, now time.Time)
	Snapshot() []model.RelayChannel
}

type KeepaliveSource interface {
	LastKeepalive() time.Time
}

type Outputs interface {
	Set(pin model.GPIOPin, active bool) error
}

// Cycle is the outcome of one monitor pass, handed to every observer.
type Cycle struct {
	Now      time.Time
	Previous model.FaultSet
	Faults   model.FaultSet
	Sensors  sensor.Snapshot
	Relays   []model.RelayChannel
}

// Raised reports an empty to non-empty transition.
func (c Cycle) Raised() bool {
	return c.Previous.Empty() && !c.Faults.Empty()
}

// Cleared reports a non-empty to empty transition.
func (c Cycle) Cleared() bool {
	return !c.Previous.Empty() && c.Faults.Empty()
}

// Observer sees every cycle. ObserveCycle runs on the monitor goroutine and
// must return quickly.
type Observer interface {
	ObserveCycle(c Cycle)
}

type Indicators struct {
	Fault  model.GPIOPin
	Status model.GPIOPin
	Buzzer model.GPIOPin
}

type BuzzerPattern struct {
	Duration time.Duration
	Count    int
}

type Monitor struct {
	sensors   SensorSource
	relays    RelayController
	keepalive KeepaliveSource
	outputs   Outputs
	pins      Indicators
	limits    Limits
	buzz      BuzzerPattern
	observers []Observer

	current atomic.Uint32
	buzzing atomic.Bool
}

func NewMonitor(sensors SensorSource, relays RelayController, keepalive KeepaliveSource, outputs Outputs, pins Indicators, limits Limits, buzz BuzzerPattern) *Monitor {
	return &Monitor{
		sensors:   sensors,
		relays:    relays,
		keepalive: keepalive,
		outputs:   outputs,
		pins:      pins,
		limits:    limits,
		buzz:      buzz,
	}
}

func (m *Monitor) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Faults returns the last published fault snapshot.
func (m *Monitor) Faults() model.FaultSet {
	return model.FaultSet(m.current.Load())
}

func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Starting fault monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Fault monitor stopped")
			return
		case now := <-ticker.C:
			m.Cycle(now)
		}
	}
}

// Cycle runs one control pass: overrun check, fault evaluation, relay
// interlocks, then indicator outputs.
func (m *Monitor) Cycle(now time.Time) Cycle {
	m.relays.Tick(now)

	in := Inputs{
		Now:           now,
		Sensors:       m.sensors.Snapshot(),
		Relays:        m.relays.Snapshot(),
		LastKeepalive: m.keepalive.LastKeepalive(),
	}
	faults := Evaluate(in, m.limits)
	prev := model.FaultSet(m.current.Swap(uint32(faults)))

	m.relays.ApplyFaults(faults, now)

	cycle := Cycle{
		Now:      now,
		Previous: prev,
		Faults:   faults,
		Sensors:  in.Sensors,
		Relays:   m.relays.Snapshot(),
	}
	m.execute(cycle)
	return cycle
}

func (m *Monitor) execute(c Cycle) {
	if err := m.outputs.Set(m.pins.Fault, !c.Faults.Empty()); err != nil {
		log.Error().Err(err).Msg("Failed to drive fault indicator")
	}
	if err := m.outputs.Set(m.pins.Status, !c.Faults.Has(model.FaultCommLost)); err != nil {
		log.Error().Err(err).Msg("Failed to drive status indicator")
	}

	if c.Faults != c.Previous {
		log.Info().
			Str("faults", c.Faults.String()).
			Str("previous", c.Previous.String()).
			Msg("Fault set changed")
	}

	if c.Raised() {
		log.Warn().Str("faults", c.Faults.String()).Msg("Fault raised")
		m.soundBuzzer()
	}
	if c.Cleared() {
		log.Info().Msg("All faults cleared")
	}

	for _, o := range m.observers {
		o.ObserveCycle(c)
	}
}

// soundBuzzer plays the fault pattern once in the background. A pattern
// already playing is not restarted.
func (m *Monitor) soundBuzzer() {
	if m.buzz.Count <= 0 || !m.buzzing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer m.buzzing.Store(false)
		for i := 0; i < m.buzz.Count; i++ {
			if err := m.outputs.Set(m.pins.Buzzer, true); err != nil {
				log.Error().Err(err).Msg("Failed to drive buzzer")
				return
			}
			time.Sleep(m.buzz.Duration)
			if err := m.outputs.Set(m.pins.Buzzer, false); err != nil {
				log.Error().Err(err).Msg("Failed to release buzzer")
				return
			}
			time.Sleep(m.buzz.Duration)
		}
	}()
}

package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/fault"
	"github.com/thatsimonsguy/tank-controller/internal/model"
)

var ErrUnrecoveredFault = errors.New("sensor fault not recovered")

type Journal interface {
	Record(e model.RelayEvent)
}

// Supervisor restarts the process when a sensor fault outlives the reset
// timeout. Overrun lockouts are left for the operator.
type Supervisor struct {
	timeout    time.Duration
	journal    Journal
	notify     func(title, message string) error
	restart    func(err error, msg string)
	faultSince time.Time
	fired      bool
}

func New(timeout time.Duration, journal Journal, notify func(title, message string) error, restart func(err error, msg string)) *Supervisor {
	return &Supervisor{timeout: timeout, journal: journal, notify: notify, restart: restart}
}

func (s *Supervisor) ObserveCycle(c fault.Cycle) {
	sensorFaults := c.Faults.Sensor()
	if sensorFaults.Empty() {
		if !s.faultSince.IsZero() {
			log.Info().Dur("lasted", c.Now.Sub(s.faultSince)).Msg("Sensor fault recovered before supervisory timeout")
		}
		s.faultSince = time.Time{}
		return
	}
	if s.faultSince.IsZero() {
		s.faultSince = c.Now
		return
	}
	if s.fired || c.Now.Sub(s.faultSince) < s.timeout {
		return
	}

	s.fired = true
	err := fmt.Errorf("%w: %s for %s", ErrUnrecoveredFault, sensorFaults, c.Now.Sub(s.faultSince))

	log.Error().Err(err).Msg("Escalating to supervisory restart")
	if s.journal != nil {
		s.journal.Record(model.RelayEvent{At: c.Now, Kind: model.EventSupervisoryRestart, Detail: err.Error()})
	}
	if s.notify != nil {
		if nerr := s.notify("Tank controller restarting", err.Error()); nerr != nil {
			log.Warn().Err(nerr).Msg("Failed to send restart notification")
		}
	}
	s.restart(err, "Supervisory restart")
}

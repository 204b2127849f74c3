package sensor

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

type Poller interface {
	Poll() model.SensorReading
}

// Task drives one link at a fixed cadence on its own OS thread.
type Task struct {
	ID     model.SensorID
	Link   Poller
	Status *Status
	// Period is consulted every cycle so a persisted delay change applies
	// without restarting the task.
	Period func() time.Duration
	// Core pins the task's thread to a CPU; negative leaves it unpinned.
	Core int
	// OnReading, when set, observes every published reading.
	OnReading func(model.SensorID, model.SensorReading)
}

func (t *Task) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if t.Core >= 0 {
		if err := pinToCore(t.Core); err != nil {
			log.Warn().Err(err).Str("channel", string(t.ID)).Int("core", t.Core).Msg("Could not pin sensor task to core")
		}
	}

	log.Info().Str("channel", string(t.ID)).Int("core", t.Core).Msg("Starting sensor acquisition task")

	next := time.Now()
	for {
		if !sleepUntil(ctx, next) {
			log.Info().Str("channel", string(t.ID)).Msg("Sensor acquisition task stopped")
			return
		}

		reading := t.Link.Poll()
		t.Status.Publish(t.ID, reading)
		if t.OnReading != nil {
			t.OnReading(t.ID, reading)
		}

		log.Debug().
			Str("channel", string(t.ID)).
			Str("status", string(reading.Status)).
			Int("value_mm", reading.ValueMm).
			Msg("Sensor polled")

		var skipped int
		next, skipped = nextDeadline(next, t.Period(), time.Now())
		if skipped > 0 {
			log.Warn().Str("channel", string(t.ID)).Int("skipped", skipped).Msg("Sensor poll overran its period")
		}
	}
}

// nextDeadline advances the schedule by one period from the last scheduled
// time. Slots already in the past are skipped, not queued.
func nextDeadline(scheduled time.Time, period time.Duration, now time.Time) (time.Time, int) {
	next := scheduled.Add(period)
	if next.After(now) {
		return next, 0
	}
	missed := int(now.Sub(next)/period) + 1
	return next.Add(time.Duration(missed) * period), missed
}

func sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/tank-controller/internal/fault"
	"github.com/thatsimonsguy/tank-controller/internal/model"
)

type memJournal struct{ events []model.RelayEvent }

func (j *memJournal) Record(e model.RelayEvent) { j.events = append(j.events, e) }

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func cycle(ms int, faults model.FaultSet) fault.Cycle {
	return fault.Cycle{Now: t0.Add(time.Duration(ms) * time.Millisecond), Faults: faults}
}

type harness struct {
	sup      *Supervisor
	journal  *memJournal
	notified []string
	restarts []error
}

func newHarness() *harness {
	h := &harness{journal: &memJournal{}}
	h.sup = New(time.Minute, h.journal,
		func(title, _ string) error { h.notified = append(h.notified, title); return nil },
		func(err error, _ string) { h.restarts = append(h.restarts, err) },
	)
	return h
}

func TestSensorFaultEscalatesAfterTimeout(t *testing.T) {
	h := newHarness()

	h.sup.ObserveCycle(cycle(0, model.FaultSensorATimeout))
	h.sup.ObserveCycle(cycle(59999, model.FaultSensorATimeout|model.FaultCommLost))
	assert.Empty(t, h.restarts)

	h.sup.ObserveCycle(cycle(60000, model.FaultSensorAOutOfRange))
	require.Len(t, h.restarts, 1)
	assert.ErrorIs(t, h.restarts[0], ErrUnrecoveredFault)
	assert.Equal(t, []string{"Tank controller restarting"}, h.notified)
	require.Len(t, h.journal.events, 1)
	assert.Equal(t, model.EventSupervisoryRestart, h.journal.events[0].Kind)

	h.sup.ObserveCycle(cycle(70000, model.FaultSensorATimeout))
	assert.Len(t, h.restarts, 1, "escalation fires once")
}

func TestRecoveryResetsTimer(t *testing.T) {
	h := newHarness()

	h.sup.ObserveCycle(cycle(0, model.FaultSensorBTimeout))
	h.sup.ObserveCycle(cycle(50000, 0))
	h.sup.ObserveCycle(cycle(55000, model.FaultSensorBTimeout))
	h.sup.ObserveCycle(cycle(100000, model.FaultSensorBTimeout))

	assert.Empty(t, h.restarts)
}

func TestOverrunAndCommLostDoNotEscalate(t *testing.T) {
	h := newHarness()

	h.sup.ObserveCycle(cycle(0, model.FaultRelayOverrun|model.FaultCommLost))
	h.sup.ObserveCycle(cycle(600000, model.FaultRelayOverrun|model.FaultCommLost))

	assert.Empty(t, h.restarts)
}

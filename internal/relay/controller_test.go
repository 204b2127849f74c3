package relay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

type fakeOutputs struct {
	mu     sync.Mutex
	levels map[int]bool
	fail   map[int]bool
	writes int
}

func newFakeOutputs() *fakeOutputs {
	return &fakeOutputs{levels: map[int]bool{}, fail: map[int]bool{}}
}

func (f *fakeOutputs) Set(pin model.GPIOPin, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[pin.Number] {
		return errors.New("pin stuck")
	}
	f.levels[pin.Number] = active
	f.writes++
	return nil
}

func (f *fakeOutputs) active(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

type memJournal struct {
	events []model.RelayEvent
}

func (j *memJournal) Record(e model.RelayEvent) {
	j.events = append(j.events, e)
}

func (j *memJournal) kinds() []string {
	var out []string
	for _, e := range j.events {
		out = append(out, e.Kind)
	}
	return out
}

const (
	pumpPin   = 25
	valvePin  = 26
	mirror1   = 18
	mirror2   = 19
	maxRunner = 300000 * time.Millisecond
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestController() (*Controller, *fakeOutputs, *memJournal) {
	out := newFakeOutputs()
	c := NewController(out, maxRunner,
		Channel{Name: "pump", Relay: model.GPIOPin{Number: pumpPin, ActiveHigh: true}, Mirror: model.GPIOPin{Number: mirror1, ActiveHigh: true}, InterlockWith: model.SensorA},
		Channel{Name: "valve", Relay: model.GPIOPin{Number: valvePin, ActiveHigh: true}, Mirror: model.GPIOPin{Number: mirror2, ActiveHigh: true}, InterlockWith: model.SensorB},
	)
	j := &memJournal{}
	c.SetJournal(j)
	return c, out, j
}

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func TestCommandOnOff(t *testing.T) {
	c, out, _ := newTestController()

	ch, err := c.CommandOn(1, true, at(0))
	require.NoError(t, err)
	assert.Equal(t, model.RelayOn, ch.State)
	assert.True(t, ch.ActualOn)
	assert.Equal(t, at(0), ch.OnSince)
	assert.True(t, out.active(pumpPin))
	assert.True(t, out.active(mirror1))

	ch, err = c.CommandOn(1, false, at(1000))
	require.NoError(t, err)
	assert.Equal(t, model.RelayOff, ch.State)
	assert.True(t, ch.OnSince.IsZero())
	assert.False(t, out.active(pumpPin))
	assert.False(t, out.active(mirror1))
}

func TestOverrunLockoutAndReset(t *testing.T) {
	c, out, j := newTestController()

	_, err := c.CommandOn(1, true, at(0))
	require.NoError(t, err)

	c.Tick(at(299999))
	ch, _ := c.Channel(1)
	assert.Equal(t, model.RelayOn, ch.State)

	c.Tick(at(300001))
	ch, _ = c.Channel(1)
	assert.Equal(t, model.RelayOverrunLocked, ch.State)
	assert.False(t, ch.ActualOn)
	assert.False(t, out.active(pumpPin))
	assert.Equal(t, at(300001), ch.LockedAt)

	// demand still asserted: reset is refused, not ignored
	ch, err = c.Reset(1, at(300001))
	assert.ErrorIs(t, err, ErrConditionActive)
	assert.Equal(t, model.RelayOverrunLocked, ch.State)

	// a new on command never clears the lockout
	_, err = c.CommandOn(1, true, at(300001))
	assert.ErrorIs(t, err, ErrOverrunLocked)

	ch, err = c.CommandOn(1, false, at(300002))
	require.NoError(t, err)
	assert.Equal(t, model.RelayOverrunLocked, ch.State)
	assert.False(t, ch.CommandedOn)

	ch, err = c.Reset(1, at(300002))
	require.NoError(t, err)
	assert.Equal(t, model.RelayOff, ch.State)
	assert.False(t, out.active(pumpPin))

	assert.Equal(t, []string{model.EventOverrunLockout, model.EventResetRejected, model.EventReset}, j.kinds())
}

func TestOverrunIsPerChannel(t *testing.T) {
	c, _, _ := newTestController()

	_, _ = c.CommandOn(1, true, at(0))
	_, _ = c.CommandOn(2, true, at(200000))

	c.Tick(at(300000))

	snap := c.Snapshot()
	assert.Equal(t, model.RelayOverrunLocked, snap[0].State)
	assert.Equal(t, model.RelayOn, snap[1].State)
}

func TestFaultLockout(t *testing.T) {
	c, out, j := newTestController()
	_, _ = c.CommandOn(1, true, at(0))
	_, _ = c.CommandOn(2, true, at(0))

	c.ApplyFaults(model.FaultSensorATimeout, at(100))

	snap := c.Snapshot()
	assert.Equal(t, model.RelayFaultLocked, snap[0].State)
	assert.False(t, out.active(pumpPin))
	assert.Equal(t, model.RelayOn, snap[1].State, "sensor A fault does not touch the valve")
	assert.True(t, out.active(valvePin))

	_, err := c.Reset(1, at(200))
	assert.ErrorIs(t, err, ErrConditionActive)
	assert.ErrorIs(t, err, ErrFaultActive)

	_, err = c.CommandOn(1, true, at(200))
	assert.ErrorIs(t, err, ErrFaultLocked)

	c.ApplyFaults(0, at(300))
	ch, err := c.Reset(1, at(300))
	require.NoError(t, err)
	assert.Equal(t, model.RelayOff, ch.State)
	assert.False(t, ch.CommandedOn)

	assert.Equal(t, []string{model.EventFaultLockout, model.EventResetRejected, model.EventReset}, j.kinds())
}

func TestFaultLocksIdleRelayAndBlocksOn(t *testing.T) {
	c, _, _ := newTestController()

	c.ApplyFaults(model.FaultSensorBOutOfRange, at(0))
	ch, _ := c.Channel(2)
	assert.Equal(t, model.RelayFaultLocked, ch.State)
}

func TestCommLostAndOverrunAreNotInterlockFaults(t *testing.T) {
	c, _, _ := newTestController()
	_, _ = c.CommandOn(1, true, at(0))

	c.ApplyFaults(model.FaultCommLost|model.FaultRelayOverrun, at(10))

	ch, _ := c.Channel(1)
	assert.Equal(t, model.RelayOn, ch.State)
}

func TestApplyFaultsReassertsOutputs(t *testing.T) {
	c, out, _ := newTestController()
	_, _ = c.CommandOn(1, true, at(0))

	// something else flipped the pin behind our back
	out.levels[pumpPin] = false
	out.levels[valvePin] = true

	c.ApplyFaults(0, at(100))

	assert.True(t, out.active(pumpPin))
	assert.False(t, out.active(valvePin))
}

func TestResetWhenNotLocked(t *testing.T) {
	c, _, j := newTestController()

	_, err := c.Reset(1, at(0))
	assert.ErrorIs(t, err, ErrNotLocked)
	assert.Empty(t, j.events)
}

func TestUnknownRelay(t *testing.T) {
	c, _, _ := newTestController()

	_, err := c.CommandOn(3, true, at(0))
	assert.ErrorIs(t, err, ErrUnknownRelay)
	_, err = c.Reset(0, at(0))
	assert.ErrorIs(t, err, ErrUnknownRelay)
	_, err = c.Channel(9)
	assert.ErrorIs(t, err, ErrUnknownRelay)
}

func TestWriteFailureEscalates(t *testing.T) {
	c, out, _ := newTestController()
	var escalated error
	c.OnWriteFailure = func(err error) { escalated = err }
	out.fail[pumpPin] = true

	ch, err := c.CommandOn(1, true, at(0))
	require.NoError(t, err)
	assert.False(t, ch.ActualOn)
	assert.ErrorContains(t, escalated, "relay 1 (pump)")
}

func TestSnapshotIsACopy(t *testing.T) {
	c, _, _ := newTestController()
	snap := c.Snapshot()
	snap[0].State = model.RelayOn

	ch, _ := c.Channel(1)
	assert.Equal(t, model.RelayOff, ch.State)
}

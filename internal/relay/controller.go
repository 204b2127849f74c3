package relay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// Outputs drives physical pins. gpio.Driver satisfies it.
type Outputs interface {
	Set(pin model.GPIOPin, active bool) error
}

// Journal records lockouts and resets. Implementations must not block.
type Journal interface {
	Record(e model.RelayEvent)
}

// Channel wires one relay to its pins and interlocked sensor.
type Channel struct {
	Name          string
	Relay         model.GPIOPin
	Mirror        model.GPIOPin // auxiliary output following the relay
	InterlockWith model.SensorID
}

type channel struct {
	Channel
	id          int
	state       model.RelayState
	commandedOn bool
	actualOn    bool
	onSince     time.Time
	lockedAt    time.Time
}

// Controller owns every RelayChannel. It is the only writer of relay state
// and of the relay pins; readers use Snapshot.
type Controller struct {
	mu         sync.Mutex
	channels   []*channel
	outputs    Outputs
	maxRuntime time.Duration
	faults     model.FaultSet

	published atomic.Pointer[[]model.RelayChannel]

	journal Journal
	// OnWriteFailure is called when a relay pin cannot be driven. The
	// process wires this to a supervisory shutdown.
	OnWriteFailure func(err error)
}

func NewController(outputs Outputs, maxRuntime time.Duration, channels ...Channel) *Controller {
	c := &Controller{
		outputs:    outputs,
		maxRuntime: maxRuntime,
		OnWriteFailure: func(err error) {
			log.Error().Err(err).Msg("Relay output write failed")
		},
	}
	for i, ch := range channels {
		c.channels = append(c.channels, &channel{Channel: ch, id: i + 1, state: model.RelayOff})
	}
	c.publish()
	return c
}

func (c *Controller) SetJournal(j Journal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal = j
}

// Snapshot returns the last published state of every channel.
func (c *Controller) Snapshot() []model.RelayChannel {
	chs := *c.published.Load()
	out := make([]model.RelayChannel, len(chs))
	copy(out, chs)
	return out
}

func (c *Controller) Channel(id int) (model.RelayChannel, error) {
	chs := *c.published.Load()
	if id < 1 || id > len(chs) {
		return model.RelayChannel{}, fmt.Errorf("relay %d: %w", id, ErrUnknownRelay)
	}
	return chs[id-1], nil
}

func (c *Controller) Count() int {
	return len(c.channels)
}

// CommandOn applies an on/off demand. Turning on a locked relay is refused;
// turning it off is recorded so a later reset can succeed.
func (c *Controller) CommandOn(id int, on bool, now time.Time) (model.RelayChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.lookup(id)
	if err != nil {
		return model.RelayChannel{}, err
	}

	next, err := commandTransition(ch.state, on, c.interlockFaulted(ch))
	if err != nil {
		log.Warn().Err(err).Int("relay", id).Str("state", string(ch.state)).Bool("on", on).Msg("Relay command rejected")
		return c.view(ch), fmt.Errorf("relay %d: %w", id, err)
	}

	ch.commandedOn = on
	if next != ch.state {
		log.Info().Int("relay", id).Str("name", ch.Name).Str("from", string(ch.state)).Str("to", string(next)).Msg("Relay state change")
		c.enter(ch, next, now)
	}
	c.drive(ch)
	c.publish()
	return c.view(ch), nil
}

// Reset tries to leave a lockout. It is rejected with ErrConditionActive
// while the triggering condition persists.
func (c *Controller) Reset(id int, now time.Time) (model.RelayChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.lookup(id)
	if err != nil {
		return model.RelayChannel{}, err
	}

	from := ch.state
	next, err := resetTransition(ch.state, ch.commandedOn, c.interlockFaulted(ch))
	if err != nil {
		log.Warn().Err(err).Int("relay", id).Str("state", string(ch.state)).Msg("Relay reset rejected")
		if from.Locked() {
			c.record(ch, model.EventResetRejected, now, err.Error())
		}
		return c.view(ch), fmt.Errorf("relay %d: %w", id, err)
	}

	ch.commandedOn = false
	c.enter(ch, next, now)
	log.Info().Int("relay", id).Str("name", ch.Name).Str("from", string(from)).Msg("Relay lockout reset")
	c.record(ch, model.EventReset, now, "from "+string(from))
	c.drive(ch)
	c.publish()
	return c.view(ch), nil
}

// Tick enforces the maximum continuous runtime.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, ch := range c.channels {
		next := overrunTransition(ch.state, ch.onSince, now, c.maxRuntime)
		if next == ch.state {
			continue
		}
		log.Warn().
			Int("relay", ch.id).
			Str("name", ch.Name).
			Dur("ran_for", now.Sub(ch.onSince)).
			Msg("Relay exceeded maximum runtime, locking out")
		c.enter(ch, next, now)
		c.record(ch, model.EventOverrunLockout, now, fmt.Sprintf("max runtime %s", c.maxRuntime))
		c.drive(ch)
		changed = true
	}
	if changed {
		c.publish()
	}
}

// ApplyFaults takes the latest fault snapshot, locks out channels whose
// interlocked sensor is faulted, and re-asserts every output from state.
func (c *Controller) ApplyFaults(faults model.FaultSet, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.faults = faults
	for _, ch := range c.channels {
		next := faultTransition(ch.state, c.interlockFaulted(ch))
		if next != ch.state {
			log.Warn().
				Int("relay", ch.id).
				Str("name", ch.Name).
				Str("faults", faults.Sensor().String()).
				Msg("Interlocked sensor faulted, locking out relay")
			c.enter(ch, next, now)
			c.record(ch, model.EventFaultLockout, now, faults.Sensor().String())
		}
		c.drive(ch)
	}
	c.publish()
}

func (c *Controller) lookup(id int) (*channel, error) {
	if id < 1 || id > len(c.channels) {
		return nil, fmt.Errorf("relay %d: %w", id, ErrUnknownRelay)
	}
	return c.channels[id-1], nil
}

func (c *Controller) interlockFaulted(ch *channel) bool {
	if ch.InterlockWith == "" {
		return false
	}
	return c.faults.Has(model.SensorFaults(ch.InterlockWith))
}

func (c *Controller) enter(ch *channel, next model.RelayState, now time.Time) {
	switch next {
	case model.RelayOn:
		ch.onSince = now
		ch.lockedAt = time.Time{}
	case model.RelayOff:
		ch.onSince = time.Time{}
		ch.lockedAt = time.Time{}
	case model.RelayOverrunLocked, model.RelayFaultLocked:
		ch.onSince = time.Time{}
		ch.lockedAt = now
	}
	ch.state = next
}

// drive writes the relay and its mirror from state alone.
func (c *Controller) drive(ch *channel) {
	want := ch.state.OutputOn()
	if err := c.outputs.Set(ch.Relay, want); err != nil {
		ch.actualOn = false
		c.OnWriteFailure(fmt.Errorf("relay %d (%s): %w", ch.id, ch.Name, err))
		return
	}
	ch.actualOn = want
	if err := c.outputs.Set(ch.Mirror, want); err != nil {
		log.Error().Err(err).Int("relay", ch.id).Msg("Failed to drive auxiliary output")
	}
}

func (c *Controller) record(ch *channel, kind string, now time.Time, detail string) {
	if c.journal == nil {
		return
	}
	c.journal.Record(model.RelayEvent{At: now, Relay: ch.id, Kind: kind, State: ch.state, Detail: detail})
}

func (c *Controller) view(ch *channel) model.RelayChannel {
	return model.RelayChannel{
		ID:            ch.id,
		Name:          ch.Name,
		State:         ch.state,
		CommandedOn:   ch.commandedOn,
		ActualOn:      ch.actualOn,
		OnSince:       ch.onSince,
		LockedAt:      ch.lockedAt,
		InterlockWith: ch.InterlockWith,
	}
}

func (c *Controller) publish() {
	chs := make([]model.RelayChannel, len(c.channels))
	for i, ch := range c.channels {
		chs[i] = c.view(ch)
	}
	c.published.Store(&chs)
}

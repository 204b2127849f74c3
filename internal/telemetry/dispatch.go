package telemetry

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/configstore"
	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/relay"
)

type RelayCommander interface {
	CommandOn(id int, on bool, now time.Time) (model.RelayChannel, error)
	Reset(id int, now time.Time) (model.RelayChannel, error)
	Count() int
}

// SettingsStore takes poll delays in client milliseconds; nil keeps the
// current value.
type SettingsStore interface {
	SetPollDelaysMillis(a, b *int64) (model.SystemConfig, error)
}

// Dispatcher validates inbound requests and applies them. Its replies go to
// the requesting client only.
type Dispatcher struct {
	relays   RelayCommander
	settings SettingsStore
	now      func() time.Time
	// OnRejected observes every refused request with a short reason.
	OnRejected func(reason string)
}

func NewDispatcher(relays RelayCommander, settings SettingsStore) *Dispatcher {
	return &Dispatcher{relays: relays, settings: settings, now: time.Now, OnRejected: func(string) {}}
}

// Handle processes one frame. wantStatus asks the caller to send the
// current status record to the requester as well.
func (d *Dispatcher) Handle(data []byte) (reply []byte, wantStatus bool) {
	req, err := ParseRequest(data, d.relays.Count())
	if err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("Rejected inbound message")
		d.OnRejected("invalid")
		return encodeError(req.ID, err), false
	}

	switch req.Kind {
	case KindPing:
		return []byte("pong"), false
	case KindSync:
		return nil, true
	case KindRelay:
		return d.relay(req), true
	case KindReset:
		return d.reset(req), true
	case KindSettings:
		return d.updateSettings(req), false
	}
	return encodeError(req.ID, ErrInvalidCommand), false
}

func (d *Dispatcher) relay(req Request) []byte {
	cmd := req.Command
	ch, err := d.relays.CommandOn(cmd.TargetRelay, cmd.DesiredState == model.DesiredOn, d.now())
	if err != nil {
		d.OnRejected(RejectReason(err))
		return encodeError(req.ID, err)
	}
	log.Info().
		Str("request_id", req.ID).
		Int("relay", cmd.TargetRelay).
		Str("desired", string(cmd.DesiredState)).
		Str("state", string(ch.State)).
		Msg("Relay command applied")
	rec := relayRecord(ch)
	return encodeAck(Ack{RequestID: req.ID, State: ch.State, Relay: &rec})
}

func (d *Dispatcher) reset(req Request) []byte {
	ch, err := d.relays.Reset(req.Command.TargetRelay, d.now())
	if err != nil {
		d.OnRejected(RejectReason(err))
		return encodeError(req.ID, err)
	}
	rec := relayRecord(ch)
	return encodeAck(Ack{RequestID: req.ID, State: ch.State, Relay: &rec})
}

func (d *Dispatcher) updateSettings(req Request) []byte {
	updated, err := d.settings.SetPollDelaysMillis(req.Settings.SensorPollDelayA, req.Settings.SensorPollDelayB)
	if err != nil {
		d.OnRejected(RejectReason(err))
		return encodeError(req.ID, err)
	}
	log.Info().
		Str("request_id", req.ID).
		Dur("poll_delay_a", updated.SensorPollDelayA).
		Dur("poll_delay_b", updated.SensorPollDelayB).
		Msg("Poll delays updated")
	return encodeAck(Ack{RequestID: req.ID, Settings: &SettingsResponse{
		SensorPollDelayA: updated.SensorPollDelayA.Milliseconds(),
		SensorPollDelayB: updated.SensorPollDelayB.Milliseconds(),
	}})
}

func relayRecord(ch model.RelayChannel) RelayRecord {
	return RelayRecord{
		ID:          ch.ID,
		Name:        ch.Name,
		State:       ch.State,
		On:          ch.ActualOn,
		CommandedOn: ch.CommandedOn,
		LockedOut:   ch.LockedOut(),
	}
}

// RejectReason maps a command error to a short metrics label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, relay.ErrUnknownRelay):
		return "unknown_relay"
	case errors.Is(err, relay.ErrConditionActive):
		return "condition_active"
	case errors.Is(err, relay.ErrOverrunLocked), errors.Is(err, relay.ErrFaultLocked):
		return "locked"
	case errors.Is(err, relay.ErrFaultActive):
		return "fault_active"
	case errors.Is(err, relay.ErrNotLocked):
		return "not_locked"
	case errors.Is(err, configstore.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	}
	return "error"
}

package model

import "time"

type SensorID string

const (
	SensorA SensorID = "a"
	SensorB SensorID = "b"
)

var SensorIDs = []SensorID{SensorA, SensorB}

type SensorStatus string

const (
	SensorNotYetRead SensorStatus = "not_yet_read"
	SensorValid      SensorStatus = "valid"
	SensorTimeout    SensorStatus = "timeout"
	SensorOutOfRange SensorStatus = "out_of_range"
	SensorInvalid    SensorStatus = "invalid" // malformed frame or bad checksum
)

// SensorReading is an immutable sample published by an acquisition task.
// ValueMm is only meaningful when Status is SensorValid.
type SensorReading struct {
	ValueMm   int          `json:"valueMm"`
	Timestamp time.Time    `json:"timestamp"`
	Status    SensorStatus `json:"status"`
}

// Effective returns the reading as a reader must see it at now: anything
// older than timeout is reclassified as SensorTimeout.
func (r SensorReading) Effective(now time.Time, timeout time.Duration) SensorReading {
	if now.Sub(r.Timestamp) > timeout {
		r.Status = SensorTimeout
	}
	return r
}

func (r SensorReading) Valid() bool {
	return r.Status == SensorValid
}

type RelayState string

const (
	RelayOff           RelayState = "off"
	RelayOn            RelayState = "on"
	RelayOverrunLocked RelayState = "overrun_locked"
	RelayFaultLocked   RelayState = "fault_locked"
)

// OutputOn reports whether the physical output may be asserted in this state.
func (s RelayState) OutputOn() bool {
	return s == RelayOn
}

func (s RelayState) Locked() bool {
	return s == RelayOverrunLocked || s == RelayFaultLocked
}

// RelayChannel is a published snapshot of one relay output. Only the relay
// safety controller produces these.
type RelayChannel struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	State         RelayState `json:"state"`
	CommandedOn   bool       `json:"commandedOn"`
	ActualOn      bool       `json:"actualOn"`
	OnSince       time.Time  `json:"onSince"` // zero unless State is RelayOn
	LockedAt      time.Time  `json:"lockedAt"`
	InterlockWith SensorID   `json:"interlockWith,omitempty"`
}

func (c RelayChannel) LockedOut() bool {
	return c.State.Locked()
}

type DesiredState string

const (
	DesiredOn  DesiredState = "on"
	DesiredOff DesiredState = "off"
)

func (d DesiredState) Valid() bool {
	return d == DesiredOn || d == DesiredOff
}

// RemoteCommand is a transient relay request received from a client.
type RemoteCommand struct {
	TargetRelay  int          `json:"targetRelay"`
	DesiredState DesiredState `json:"desiredState"`
	RequestID    string       `json:"requestId"`
}

// SystemConfig holds the runtime tunables kept in persistent storage.
type SystemConfig struct {
	SensorPollDelayA time.Duration
	SensorPollDelayB time.Duration
	WifiSSID         string
	WifiPassword     string
}

func (c SystemConfig) PollDelay(id SensorID) time.Duration {
	if id == SensorB {
		return c.SensorPollDelayB
	}
	return c.SensorPollDelayA
}

type GPIOPin struct {
	Number     int  `json:"pin"`
	ActiveHigh bool `json:"active_high"`
}

// RelayEvent is one entry in the relay event journal.
type RelayEvent struct {
	At     time.Time  `json:"at"`
	Relay  int        `json:"relay"`
	Kind   string     `json:"kind"`
	State  RelayState `json:"state"`
	Detail string     `json:"detail,omitempty"`
}

const (
	EventOverrunLockout     = "overrun_lockout"
	EventFaultLockout       = "fault_lockout"
	EventReset              = "reset"
	EventResetRejected      = "reset_rejected"
	EventSupervisoryRestart = "supervisory_restart"
)

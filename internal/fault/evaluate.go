package fault

import (
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
)

// Inputs is everything one evaluation looks at, captured at a single instant.
type Inputs struct {
	Now           time.Time
	Sensors       sensor.Snapshot
	Relays        []model.RelayChannel
	LastKeepalive time.Time
}

type Limits struct {
	SensorTimeout   time.Duration
	KeepaliveWindow time.Duration
}

// Evaluate builds a complete fault set from one consistent set of inputs.
func Evaluate(in Inputs, limits Limits) model.FaultSet {
	var faults model.FaultSet

	for _, id := range model.SensorIDs {
		r := in.Sensors.Reading(id).Effective(in.Now, limits.SensorTimeout)
		switch r.Status {
		case model.SensorTimeout, model.SensorInvalid:
			faults |= model.SensorTimeoutFault(id)
		case model.SensorOutOfRange:
			faults |= model.SensorOutOfRangeFault(id)
		}
	}

	for _, ch := range in.Relays {
		if ch.State == model.RelayOverrunLocked {
			faults |= model.FaultRelayOverrun
			break
		}
	}

	if in.Now.Sub(in.LastKeepalive) > limits.KeepaliveWindow {
		faults |= model.FaultCommLost
	}

	return faults
}

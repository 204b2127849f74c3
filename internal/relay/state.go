package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

var (
	ErrUnknownRelay    = errors.New("unknown relay")
	ErrOverrunLocked   = errors.New("relay is locked out after overrun")
	ErrFaultLocked     = errors.New("relay is locked out by a sensor fault")
	ErrFaultActive     = errors.New("interlocked sensor is faulted")
	ErrConditionActive = errors.New("lockout condition still active")
	ErrNotLocked       = errors.New("relay is not locked out")
)

// Every transition below is a pure function of the current state and its
// inputs. The controller applies the result; nothing else changes State.

func commandTransition(s model.RelayState, on, interlockFaulted bool) (model.RelayState, error) {
	switch s {
	case model.RelayOff:
		if !on {
			return model.RelayOff, nil
		}
		if interlockFaulted {
			return model.RelayOff, ErrFaultActive
		}
		return model.RelayOn, nil
	case model.RelayOn:
		if on {
			return model.RelayOn, nil
		}
		return model.RelayOff, nil
	case model.RelayOverrunLocked:
		if on {
			return s, ErrOverrunLocked
		}
		return s, nil
	case model.RelayFaultLocked:
		if on {
			return s, ErrFaultLocked
		}
		return s, nil
	}
	return s, fmt.Errorf("unknown relay state %q", s)
}

func overrunTransition(s model.RelayState, onSince, now time.Time, maxRuntime time.Duration) model.RelayState {
	if s == model.RelayOn && now.Sub(onSince) >= maxRuntime {
		return model.RelayOverrunLocked
	}
	return s
}

func faultTransition(s model.RelayState, interlockFaulted bool) model.RelayState {
	if interlockFaulted && (s == model.RelayOn || s == model.RelayOff) {
		return model.RelayFaultLocked
	}
	return s
}

// resetTransition leaves a lockout only once its cause is gone. An overrun is
// cleared by withdrawing the on demand; a fault lockout by the interlocked
// sensor recovering.
func resetTransition(s model.RelayState, commandedOn, interlockFaulted bool) (model.RelayState, error) {
	switch s {
	case model.RelayOverrunLocked:
		if commandedOn {
			return s, fmt.Errorf("%w: relay still commanded on", ErrConditionActive)
		}
		return model.RelayOff, nil
	case model.RelayFaultLocked:
		if interlockFaulted {
			return s, fmt.Errorf("%w: %w", ErrConditionActive, ErrFaultActive)
		}
		return model.RelayOff, nil
	}
	return s, ErrNotLocked
}

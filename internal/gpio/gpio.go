package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/config"
	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/pinctrl"
)

// Backend talks to the pins at the electrical level.
type Backend interface {
	Drive(pin int, high bool) error
	Level(pin int) (bool, error)
	ConfigureInput(pin int, pull string) error
}

type pinctrlBackend struct{}

func (pinctrlBackend) Drive(pin int, high bool) error {
	return pinctrl.Drive(pin, high)
}

func (pinctrlBackend) Level(pin int) (bool, error) {
	return pinctrl.ReadLevel(pin)
}

func (pinctrlBackend) ConfigureInput(pin int, pull string) error {
	return pinctrl.ConfigureInput(pin, pull)
}

var (
	backend Backend = pinctrlBackend{}

	safeMode bool
	shadowMu sync.Mutex
	shadow   = map[int]bool{} // logical state of outputs while in safe mode
)

func SetSafeMode(enabled bool) {
	safeMode = enabled
}

func SafeMode() bool {
	return safeMode
}

// Set drives pin to its active or inactive level, honouring polarity.
func Set(pin model.GPIOPin, active bool) error {
	if safeMode {
		shadowMu.Lock()
		shadow[pin.Number] = active
		shadowMu.Unlock()
		return nil
	}

	high := active == pin.ActiveHigh
	if err := backend.Drive(pin.Number, high); err != nil {
		return fmt.Errorf("drive pin %d active=%v: %w", pin.Number, active, err)
	}
	return nil
}

func Activate(pin model.GPIOPin) error {
	return Set(pin, true)
}

func Deactivate(pin model.GPIOPin) error {
	return Set(pin, false)
}

// Read returns the raw electrical level of pin.
func Read(pin model.GPIOPin) (bool, error) {
	level, err := backend.Level(pin.Number)
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin.Number, err)
	}
	return level, nil
}

// CurrentlyActive reads pin back and reports whether it sits at its active level.
func CurrentlyActive(pin model.GPIOPin) (bool, error) {
	if safeMode {
		shadowMu.Lock()
		defer shadowMu.Unlock()
		return shadow[pin.Number], nil
	}

	level, err := Read(pin)
	if err != nil {
		return false, err
	}
	return level == pin.ActiveHigh, nil
}

// Driver exposes the package functions as a value for components that take
// their outputs as an interface.
type Driver struct{}

func (Driver) Set(pin model.GPIOPin, active bool) error {
	return Set(pin, active)
}

func (Driver) Active(pin model.GPIOPin) (bool, error) {
	return CurrentlyActive(pin)
}

// Pins maps the logical roles of the unit onto physical pins.
type Pins struct {
	Relay1       model.GPIOPin
	Relay2       model.GPIOPin
	Output1      model.GPIOPin
	Output2      model.GPIOPin
	Status       model.GPIOPin
	Fault        model.GPIOPin
	Buzzer       model.GPIOPin
	ConfigSelect model.GPIOPin
}

func PinsFromConfig(g config.GPIO) Pins {
	pin := func(role string) model.GPIOPin {
		p := g[role]
		if p == nil {
			return model.GPIOPin{}
		}
		return model.GPIOPin{Number: p.Pin, ActiveHigh: p.ActiveHigh}
	}
	return Pins{
		Relay1:       pin(config.RoleRelay1),
		Relay2:       pin(config.RoleRelay2),
		Output1:      pin(config.RoleOutput1),
		Output2:      pin(config.RoleOutput2),
		Status:       pin(config.RoleStatus),
		Fault:        pin(config.RoleFault),
		Buzzer:       pin(config.RoleBuzzer),
		ConfigSelect: pin(config.RoleConfigSelect),
	}
}

type NamedPin struct {
	Name string
	Pin  model.GPIOPin
}

// Outputs lists every driven pin, relays first.
func (p Pins) Outputs() []NamedPin {
	return []NamedPin{
		{config.RoleRelay1, p.Relay1},
		{config.RoleRelay2, p.Relay2},
		{config.RoleOutput1, p.Output1},
		{config.RoleOutput2, p.Output2},
		{config.RoleBuzzer, p.Buzzer},
		{config.RoleFault, p.Fault},
		{config.RoleStatus, p.Status},
	}
}

// AllOff deactivates every output, attempting all of them even if some fail.
func AllOff(p Pins) error {
	var errs []error
	for _, out := range p.Outputs() {
		if err := Deactivate(out.Pin); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", out.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateStartupPins refuses to hand the relays to the controller if any
// output is already asserted.
func ValidateStartupPins(p Pins) error {
	for _, out := range p.Outputs() {
		active, err := CurrentlyActive(out.Pin)
		if err != nil {
			return fmt.Errorf("failed to read pin level for %s (GPIO %d): %w", out.Name, out.Pin.Number, err)
		}
		if active {
			return fmt.Errorf("pin %d (%s) is active at startup (expected inactive)", out.Pin.Number, out.Name)
		}
	}
	return nil
}

// ConfigModeSelected reads the config-select input once.
func ConfigModeSelected(pin model.GPIOPin) bool {
	pull := "pd"
	if !pin.ActiveHigh {
		pull = "pu"
	}
	if !safeMode {
		if err := backend.ConfigureInput(pin.Number, pull); err != nil {
			log.Warn().Err(err).Int("pin", pin.Number).Msg("Failed to configure config-select input")
			return false
		}
	}
	active, err := CurrentlyActive(pin)
	if err != nil {
		log.Warn().Err(err).Int("pin", pin.Number).Msg("Failed to read config-select input")
		return false
	}
	return active
}

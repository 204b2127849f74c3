package notifications

import (
	"fmt"

	"github.com/thatsimonsguy/tank-controller/internal/fault"
)

// FaultAlerts pushes a notification on every fault raise and clear.
type FaultAlerts struct {
	send func(title, message string)
}

func NewFaultAlerts() *FaultAlerts {
	return &FaultAlerts{send: SendAsync}
}

func (a *FaultAlerts) ObserveCycle(c fault.Cycle) {
	switch {
	case c.Raised():
		a.send("Tank controller fault", fmt.Sprintf("Faults raised: %s", c.Faults))
	case c.Cleared():
		a.send("Tank controller recovered", fmt.Sprintf("Faults cleared (were: %s)", c.Previous))
	}
}

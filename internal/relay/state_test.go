package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

func TestCommandTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    model.RelayState
		on      bool
		faulted bool
		want    model.RelayState
		wantErr error
	}{
		{"off to on", model.RelayOff, true, false, model.RelayOn, nil},
		{"off refused while faulted", model.RelayOff, true, true, model.RelayOff, ErrFaultActive},
		{"on to off", model.RelayOn, false, false, model.RelayOff, nil},
		{"on stays on", model.RelayOn, true, false, model.RelayOn, nil},
		{"overrun refuses on", model.RelayOverrunLocked, true, false, model.RelayOverrunLocked, ErrOverrunLocked},
		{"overrun accepts off", model.RelayOverrunLocked, false, false, model.RelayOverrunLocked, nil},
		{"fault refuses on", model.RelayFaultLocked, true, false, model.RelayFaultLocked, ErrFaultLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := commandTransition(tt.from, tt.on, tt.faulted)
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOverrunTransition_Boundary(t *testing.T) {
	assert.Equal(t, model.RelayOn, overrunTransition(model.RelayOn, at(0), at(299999), maxRunner))
	assert.Equal(t, model.RelayOverrunLocked, overrunTransition(model.RelayOn, at(0), at(300000), maxRunner))
	assert.Equal(t, model.RelayOff, overrunTransition(model.RelayOff, at(0), at(900000), maxRunner))
}

func TestResetTransition(t *testing.T) {
	_, err := resetTransition(model.RelayOverrunLocked, true, false)
	assert.ErrorIs(t, err, ErrConditionActive)

	got, err := resetTransition(model.RelayOverrunLocked, false, true)
	assert.NoError(t, err)
	assert.Equal(t, model.RelayOff, got, "a sensor fault does not hold an overrun lockout")

	_, err = resetTransition(model.RelayFaultLocked, false, true)
	assert.ErrorIs(t, err, ErrConditionActive)

	_, err = resetTransition(model.RelayOn, false, false)
	assert.ErrorIs(t, err, ErrNotLocked)
}

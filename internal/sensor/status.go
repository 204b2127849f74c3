package sensor

import (
	"sync/atomic"
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// Snapshot is one consistent view of both channels. Values are never
// modified after publication.
type Snapshot struct {
	A       model.SensorReading
	B       model.SensorReading
	Version uint64
}

func (s Snapshot) Reading(id model.SensorID) model.SensorReading {
	if id == model.SensorB {
		return s.B
	}
	return s.A
}

// Status is the shared sensor state. Each channel has a single writer; both
// writers swap in whole new snapshots so readers never see a torn record.
type Status struct {
	current atomic.Pointer[Snapshot]
}

func NewStatus(start time.Time) *Status {
	s := &Status{}
	initial := model.SensorReading{Timestamp: start, Status: model.SensorNotYetRead}
	s.current.Store(&Snapshot{A: initial, B: initial})
	return s
}

// Publish replaces the reading for id.
func (s *Status) Publish(id model.SensorID, r model.SensorReading) {
	for {
		old := s.current.Load()
		next := *old
		if id == model.SensorB {
			next.B = r
		} else {
			next.A = r
		}
		next.Version = old.Version + 1
		if s.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Snapshot returns a copy of the latest published state.
func (s *Status) Snapshot() Snapshot {
	return *s.current.Load()
}

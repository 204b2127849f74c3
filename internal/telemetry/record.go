package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
)

var ErrRecordTooLarge = errors.New("telemetry record exceeds buffer size")

// State is what a status record is built from.
type State struct {
	Now     time.Time
	Sensors sensor.Snapshot
	Relays  []model.RelayChannel
	Faults  model.FaultSet
}

type SensorRecord struct {
	ValueMm     int                `json:"valueMm"`
	Status      model.SensorStatus `json:"status"`
	FillPercent *float64           `json:"fillPercent,omitempty"`
}

type RelayRecord struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	State       model.RelayState `json:"state"`
	On          bool             `json:"on"`
	CommandedOn bool             `json:"commandedOn"`
	LockedOut   bool             `json:"lockedOut"`
}

type StatusRecord struct {
	Type       string          `json:"type"`
	Seq        uint64          `json:"seq"`
	UptimeMs   int64           `json:"uptimeMs"`
	SensorA    SensorRecord    `json:"sensorA"`
	SensorB    SensorRecord    `json:"sensorB"`
	Relays     []RelayRecord   `json:"relays"`
	Faults     map[string]bool `json:"faults"`
	FaultFlags model.FaultSet  `json:"faultFlags"`
}

// Encoder turns State into bounded status records. Seq and UptimeMs only
// advance when the content changes, so an unchanged state always encodes
// to the same bytes.
type Encoder struct {
	start         time.Time
	limit         int
	sensorTimeout time.Duration
	tanks         map[model.SensorID]sensor.Tank

	mu          sync.Mutex
	seq         uint64
	lastContent []byte
	lastRecord  []byte
}

func NewEncoder(start time.Time, limit int, sensorTimeout time.Duration, tanks map[model.SensorID]sensor.Tank) *Encoder {
	return &Encoder{start: start, limit: limit, sensorTimeout: sensorTimeout, tanks: tanks}
}

func (e *Encoder) Encode(st State) ([]byte, error) {
	rec := e.record(st)

	content, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal status record: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastRecord != nil && bytes.Equal(content, e.lastContent) {
		return e.lastRecord, nil
	}

	rec.Seq = e.seq + 1
	rec.UptimeMs = st.Now.Sub(e.start).Milliseconds()
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal status record: %w", err)
	}
	if len(out) > e.limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrRecordTooLarge, len(out), e.limit)
	}

	e.seq = rec.Seq
	e.lastContent = content
	e.lastRecord = out
	return out, nil
}

func (e *Encoder) record(st State) StatusRecord {
	rec := StatusRecord{
		Type:       "status",
		SensorA:    e.sensorRecord(model.SensorA, st),
		SensorB:    e.sensorRecord(model.SensorB, st),
		Relays:     make([]RelayRecord, 0, len(st.Relays)),
		Faults:     st.Faults.Flags(),
		FaultFlags: st.Faults,
	}
	for _, ch := range st.Relays {
		rec.Relays = append(rec.Relays, RelayRecord{
			ID:          ch.ID,
			Name:        ch.Name,
			State:       ch.State,
			On:          ch.ActualOn,
			CommandedOn: ch.CommandedOn,
			LockedOut:   ch.LockedOut(),
		})
	}
	return rec
}

func (e *Encoder) sensorRecord(id model.SensorID, st State) SensorRecord {
	r := st.Sensors.Reading(id).Effective(st.Now, e.sensorTimeout)
	out := SensorRecord{Status: r.Status}
	if r.Status == model.SensorValid || r.Status == model.SensorOutOfRange {
		out.ValueMm = r.ValueMm
	}
	if pct, ok := sensor.FillPercent(r, e.tanks[id]); ok {
		rounded := math.Round(pct*10) / 10
		out.FillPercent = &rounded
	}
	return out
}

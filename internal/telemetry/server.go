package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
	"github.com/thatsimonsguy/tank-controller/internal/sensor"
)

type SensorSource interface {
	Snapshot() sensor.Snapshot
}

type RelaySource interface {
	Snapshot() []model.RelayChannel
}

type FaultSource interface {
	Faults() model.FaultSet
}

// Server periodically broadcasts status records and routes inbound frames
// through the dispatcher.
type Server struct {
	Hub        *Hub
	Encoder    *Encoder
	Dispatcher *Dispatcher

	sensors SensorSource
	relays  RelaySource
	faults  FaultSource
	now     func() time.Time

	// OnRecord observes every broadcast record, e.g. to mirror it elsewhere.
	OnRecord func(record []byte)
	// OnBroadcast counts broadcasts.
	OnBroadcast func()
}

func NewServer(hubCfg HubConfig, start time.Time, enc *Encoder, d *Dispatcher, sensors SensorSource, relays RelaySource, faults FaultSource) *Server {
	s := &Server{
		Encoder:     enc,
		Dispatcher:  d,
		sensors:     sensors,
		relays:      relays,
		faults:      faults,
		now:         time.Now,
		OnRecord:    func([]byte) {},
		OnBroadcast: func() {},
	}
	s.Hub = NewHub(hubCfg, start, s.handle)
	return s
}

func (s *Server) State() State {
	return State{
		Now:     s.now(),
		Sensors: s.sensors.Snapshot(),
		Relays:  s.relays.Snapshot(),
		Faults:  s.faults.Faults(),
	}
}

// Status encodes the current state.
func (s *Server) Status() ([]byte, error) {
	return s.Encoder.Encode(s.State())
}

func (s *Server) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("Starting telemetry broadcaster")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Hub.CloseAll()
			log.Info().Msg("Telemetry broadcaster stopped")
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) broadcast() {
	record, err := s.Status()
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode status record")
		return
	}
	s.Hub.Broadcast(record)
	s.OnBroadcast()
	s.OnRecord(record)
}

func (s *Server) handle(c *Client, data []byte) {
	reply, wantStatus := s.Dispatcher.Handle(data)
	if reply != nil {
		c.Send(reply)
	}
	if wantStatus {
		record, err := s.Status()
		if err != nil {
			log.Error().Err(err).Str("client", c.ID()).Msg("Failed to encode status record")
			return
		}
		c.Send(record)
	}
}

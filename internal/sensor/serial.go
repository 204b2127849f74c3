package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

var errBackingOff = errors.New("serial port reopen backing off")

var openPort = func(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// SerialPort lazily opens a UART and reopens it on an exponential backoff
// schedule after failures.
type SerialPort struct {
	name string
	mode *serial.Mode

	mu          sync.Mutex
	port        Port
	retry       backoff.BackOff
	nextAttempt time.Time
	now         func() time.Time
}

func NewSerialPort(name string, baud int) *SerialPort {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &SerialPort{
		name: name,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		retry: bo,
		now:   time.Now,
	}
}

func (s *SerialPort) Port() (Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return s.port, nil
	}
	if s.now().Before(s.nextAttempt) {
		return nil, errBackingOff
	}

	p, err := openPort(s.name, s.mode)
	if err != nil {
		wait := s.retry.NextBackOff()
		s.nextAttempt = s.now().Add(wait)
		log.Warn().Err(err).Str("port", s.name).Dur("retry_in", wait).Msg("Failed to open sensor serial port")
		return nil, fmt.Errorf("open %s: %w", s.name, err)
	}

	s.retry.Reset()
	s.port = p
	log.Info().Str("port", s.name).Int("baud", s.mode.BaudRate).Msg("Sensor serial port opened")
	return p, nil
}

func (s *SerialPort) Invalidate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return
	}
	log.Warn().Err(err).Str("port", s.name).Msg("Closing sensor serial port after I/O error")
	_ = s.port.Close()
	s.port = nil
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

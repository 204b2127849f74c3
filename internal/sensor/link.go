package sensor

import (
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// Port is the subset of a serial port the link needs.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// PortSource hands out an open port and takes it back when it misbehaves.
type PortSource interface {
	Port() (Port, error)
	Invalidate(err error)
}

// Link performs the request/response exchange with one distance sensor.
// Poll must not be called concurrently with itself.
type Link struct {
	name    model.SensorID
	source  PortSource
	command byte
	window  time.Duration
	limits  Limits
	now     func() time.Time
}

func NewLink(name model.SensorID, source PortSource, command byte, window time.Duration, limits Limits) *Link {
	return &Link{
		name:    name,
		source:  source,
		command: command,
		window:  window,
		limits:  limits,
		now:     time.Now,
	}
}

// Poll sends the command byte and waits at most the response window for a frame.
func (l *Link) Poll() model.SensorReading {
	port, err := l.source.Port()
	if err != nil {
		log.Debug().Err(err).Str("channel", string(l.name)).Msg("Serial port unavailable")
		return l.reading(0, model.SensorTimeout)
	}

	if err := port.ResetInputBuffer(); err != nil {
		log.Debug().Err(err).Str("channel", string(l.name)).Msg("Failed to flush serial input")
	}
	if _, err := port.Write([]byte{l.command}); err != nil {
		l.source.Invalidate(err)
		return l.reading(0, model.SensorTimeout)
	}

	frame, received := l.readFrame(port)
	if received == 0 {
		return l.reading(0, model.SensorTimeout)
	}

	mm, status := DecodeFrame(frame, l.limits)
	return l.reading(mm, status)
}

func (l *Link) readFrame(port Port) ([]byte, int) {
	deadline := l.now().Add(l.window)
	buf := make([]byte, 0, 2*frameLen)
	chunk := make([]byte, frameLen)
	received := 0

	for len(buf) < frameLen {
		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			break
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			l.source.Invalidate(err)
			break
		}

		n, err := port.Read(chunk[:frameLen-len(buf)])
		if err != nil {
			l.source.Invalidate(err)
			break
		}
		if n == 0 {
			break
		}
		received += n
		buf = resync(append(buf, chunk[:n]...))
	}

	return buf, received
}

func (l *Link) reading(mm int, status model.SensorStatus) model.SensorReading {
	if status != model.SensorValid && status != model.SensorOutOfRange {
		mm = 0
	}
	return model.SensorReading{ValueMm: mm, Timestamp: l.now(), Status: status}
}

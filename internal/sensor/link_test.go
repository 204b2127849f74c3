package sensor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// scriptedPort answers each command byte with the next scripted chunk list.
type scriptedPort struct {
	mu        sync.Mutex
	responses [][]byte
	pending   [][]byte
	timeout   time.Duration
	written   []byte
	flushes   int
	readErr   error
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	if len(p.responses) > 0 {
		p.pending = append(p.pending, p.responses[0])
		p.responses = p.responses[1:]
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		p.mu.Unlock()
		return 0, p.readErr
	}
	for len(p.pending) > 0 && len(p.pending[0]) == 0 {
		p.pending = p.pending[1:]
	}
	if len(p.pending) == 0 {
		timeout := p.timeout
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(b, p.pending[0])
	p.pending[0] = p.pending[0][n:]
	p.mu.Unlock()
	return n, nil
}

func (p *scriptedPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *scriptedPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.pending = nil
	return nil
}

func (p *scriptedPort) Close() error { return nil }

type staticSource struct {
	port        Port
	err         error
	invalidated int
}

func (s *staticSource) Port() (Port, error) { return s.port, s.err }
func (s *staticSource) Invalidate(error)    { s.invalidated++ }

func newTestLink(port Port) (*Link, *staticSource) {
	src := &staticSource{port: port}
	return NewLink(model.SensorA, src, 0x55, 50*time.Millisecond, testLimits), src
}

func TestPoll_ValidReading(t *testing.T) {
	port := &scriptedPort{responses: [][]byte{EncodeFrame(1200)}}
	link, _ := newTestLink(port)

	r := link.Poll()

	assert.Equal(t, model.SensorValid, r.Status)
	assert.Equal(t, 1200, r.ValueMm)
	assert.Equal(t, []byte{0x55}, port.written)
	assert.Equal(t, 1, port.flushes)
	assert.False(t, r.Timestamp.IsZero())
}

func TestPoll_EveryValidValueDecodesExactly(t *testing.T) {
	for mm := 0; mm <= 5000; mm += 137 {
		port := &scriptedPort{responses: [][]byte{EncodeFrame(mm)}}
		link, _ := newTestLink(port)
		r := link.Poll()
		assert.Equal(t, model.SensorValid, r.Status, "mm=%d", mm)
		assert.Equal(t, mm, r.ValueMm, "mm=%d", mm)
	}
}

func TestPoll_FragmentedFrameWithNoise(t *testing.T) {
	frame := EncodeFrame(2345)
	resp := append([]byte{0x00, 0x13}, frame...)
	port := &scriptedPort{responses: [][]byte{resp}}
	link, _ := newTestLink(port)

	r := link.Poll()

	assert.Equal(t, model.SensorValid, r.Status)
	assert.Equal(t, 2345, r.ValueMm)
}

func TestPoll_NoResponseTimesOutWithinWindow(t *testing.T) {
	port := &scriptedPort{}
	link, _ := newTestLink(port)

	start := time.Now()
	r := link.Poll()
	elapsed := time.Since(start)

	assert.Equal(t, model.SensorTimeout, r.Status)
	assert.Equal(t, 0, r.ValueMm)
	assert.Less(t, elapsed, 50*time.Millisecond+40*time.Millisecond)
}

func TestPoll_PartialFrameIsInvalid(t *testing.T) {
	port := &scriptedPort{responses: [][]byte{{0xFF, 0x04}}}
	link, _ := newTestLink(port)

	r := link.Poll()

	assert.Equal(t, model.SensorInvalid, r.Status)
}

func TestPoll_OutOfRange(t *testing.T) {
	port := &scriptedPort{responses: [][]byte{EncodeFrame(6000)}}
	link, _ := newTestLink(port)

	r := link.Poll()

	assert.Equal(t, model.SensorOutOfRange, r.Status)
	assert.Equal(t, 6000, r.ValueMm)
}

func TestPoll_PortUnavailable(t *testing.T) {
	src := &staticSource{err: errors.New("no such device")}
	link := NewLink(model.SensorB, src, 0x55, 50*time.Millisecond, testLimits)

	r := link.Poll()

	assert.Equal(t, model.SensorTimeout, r.Status)
}

func TestPoll_ReadErrorInvalidatesPort(t *testing.T) {
	port := &scriptedPort{readErr: errors.New("device unplugged")}
	link, src := newTestLink(port)

	r := link.Poll()

	assert.Equal(t, model.SensorTimeout, r.Status)
	assert.Equal(t, 1, src.invalidated)
}

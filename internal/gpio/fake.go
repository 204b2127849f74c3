package gpio

import (
	"fmt"
	"sync"
)

// Fake is an in-memory Backend for tests and bench runs without hardware.
type Fake struct {
	mu     sync.Mutex
	levels map[int]bool
	fail   map[int]bool
	writes int
}

func NewFake() *Fake {
	return &Fake{levels: map[int]bool{}, fail: map[int]bool{}}
}

func (f *Fake) Drive(pin int, high bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[pin] {
		return fmt.Errorf("fake: pin %d broken", pin)
	}
	f.levels[pin] = high
	f.writes++
	return nil
}

func (f *Fake) Level(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[pin] {
		return false, fmt.Errorf("fake: pin %d broken", pin)
	}
	return f.levels[pin], nil
}

func (f *Fake) ConfigureInput(pin int, pull string) error {
	return nil
}

// SetLevel forces the electrical level of pin, e.g. to simulate an input.
func (f *Fake) SetLevel(pin int, high bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = high
}

func (f *Fake) Fail(pin int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[pin] = true
}

func (f *Fake) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// MockGPIO installs a fresh Fake as the package backend and returns it.
func MockGPIO() *Fake {
	f := NewFake()
	backend = f
	safeMode = false
	return f
}

// ResetGPIO restores the pinctrl backend and clears safe-mode state.
func ResetGPIO() {
	backend = pinctrlBackend{}
	safeMode = false
	shadowMu.Lock()
	shadow = map[int]bool{}
	shadowMu.Unlock()
}

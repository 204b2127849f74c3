package configstore

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// Backend persists the raw image. Load returns nil when nothing was saved.
type Backend interface {
	Load() ([]byte, error)
	Save(image []byte) error
}

// Store is the only path by which SystemConfig changes. A new value is
// persisted before any reader can see it.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	defaults model.SystemConfig
	current  atomic.Pointer[model.SystemConfig]
}

func New(backend Backend, defaults model.SystemConfig) *Store {
	s := &Store{backend: backend, defaults: defaults}
	s.current.Store(&defaults)
	return s
}

// Load reads the persisted config. Invalid fields fall back to defaults;
// only a backend failure is returned as an error, and even then the store
// keeps serving defaults.
func (s *Store) Load() (model.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	image, err := s.backend.Load()
	if err != nil {
		return s.defaults, fmt.Errorf("load persisted config: %w", err)
	}
	if image == nil {
		log.Info().Msg("No persisted config, writing defaults")
		return s.defaults, s.persistLocked(s.defaults)
	}

	cfg, fellBack := Decode(image, s.defaults)
	if len(fellBack) > 0 {
		log.Warn().Str("fields", strings.Join(fellBack, ",")).Msg("Persisted config invalid, using defaults for these fields")
	}
	s.current.Store(&cfg)
	log.Info().
		Dur("poll_delay_a", cfg.SensorPollDelayA).
		Dur("poll_delay_b", cfg.SensorPollDelayB).
		Str("ssid", cfg.WifiSSID).
		Msg("Loaded persisted config")
	return cfg, nil
}

func (s *Store) Current() model.SystemConfig {
	return *s.current.Load()
}

// PollDelay is read by the acquisition tasks every cycle.
func (s *Store) PollDelay(id model.SensorID) time.Duration {
	return s.current.Load().PollDelay(id)
}

// Update applies fn to a copy of the current config, validates it, persists
// it, and only then makes it current.
func (s *Store) Update(fn func(c *model.SystemConfig)) (model.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	fn(&next)
	if err := s.persistLocked(next); err != nil {
		return *s.current.Load(), err
	}
	return next, nil
}

// SetPollDelaysMillis applies delays given in milliseconds. A nil value keeps
// the current delay for that channel.
func (s *Store) SetPollDelaysMillis(a, b *int64) (model.SystemConfig, error) {
	var delays [2]*time.Duration
	for i, ms := range []*int64{a, b} {
		if ms == nil {
			continue
		}
		d, err := PollDelayFromMillis(*ms)
		if err != nil {
			return s.Current(), err
		}
		delays[i] = &d
	}
	return s.Update(func(c *model.SystemConfig) {
		if delays[0] != nil {
			c.SensorPollDelayA = *delays[0]
		}
		if delays[1] != nil {
			c.SensorPollDelayB = *delays[1]
		}
	})
}

func (s *Store) SetWifi(ssid, password string) (model.SystemConfig, error) {
	return s.Update(func(c *model.SystemConfig) {
		c.WifiSSID = ssid
		c.WifiPassword = password
	})
}

// FactoryReset persists and applies the compiled-in defaults.
func (s *Store) FactoryReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Warn().Msg("Restoring factory config")
	return s.persistLocked(s.defaults)
}

func (s *Store) persistLocked(c model.SystemConfig) error {
	image, err := Encode(c)
	if err != nil {
		return err
	}
	if err := s.backend.Save(image); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	s.current.Store(&c)
	return nil
}

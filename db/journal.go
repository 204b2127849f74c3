package db

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/tank-controller/internal/model"
)

// Journal writes relay events on its own goroutine so the control loop
// never waits on disk. Events are dropped when the queue is full.
type Journal struct {
	db    *sql.DB
	queue chan model.RelayEvent
	done  chan struct{}
}

func NewJournal(db *sql.DB, size int) *Journal {
	return &Journal{db: db, queue: make(chan model.RelayEvent, size), done: make(chan struct{})}
}

func (j *Journal) Record(e model.RelayEvent) {
	select {
	case j.queue <- e:
	default:
		log.Warn().Str("kind", e.Kind).Int("relay", e.Relay).Msg("Relay event journal full, dropping event")
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case e := <-j.queue:
			j.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-j.queue:
					j.write(e)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (j *Journal) Wait() {
	<-j.done
}

func (j *Journal) write(e model.RelayEvent) {
	if err := InsertRelayEvent(j.db, e); err != nil {
		log.Error().Err(err).Str("kind", e.Kind).Msg("Failed to journal relay event")
	}
}

// SyncJournal writes each event before returning, for callers that are
// about to exit the process.
type SyncJournal struct {
	DB *sql.DB
}

func (s SyncJournal) Record(e model.RelayEvent) {
	if err := InsertRelayEvent(s.DB, e); err != nil {
		log.Error().Err(err).Str("kind", e.Kind).Msg("Failed to journal relay event")
	}
}

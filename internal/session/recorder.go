// Package session tracks play time per work.
package session

import (
	"time"

	"github.com/rs/zerolog"

	"dlshelf/internal/library"
	"dlshelf/internal/store"
)

// Recorder accumulates play sessions into the cache and appends them to the
// session ledger.
type Recorder struct {
	cache    *store.Cache
	sessions *store.Sessions
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRecorder(cache *store.Cache, sessions *store.Sessions, logger zerolog.Logger) *Recorder {
	return &Recorder{cache: cache, sessions: sessions, logger: logger, now: time.Now}
}

// RecordSession adds seconds to the work's total play time and stamps
// lastPlayedAt, creating a minimal stub record when the ID has none (a user
// can launch a work whose metadata fetch failed and was deleted). A zero
// duration still updates lastPlayedAt: it records a launch that was closed
// immediately. Negative durations are clamped to zero so totals stay
// monotonic.
func (r *Recorder) RecordSession(id library.WorkID, seconds int64) error {
	if seconds < 0 {
		seconds = 0
	}
	now := r.now()

	err := r.cache.Upsert(id, func(rec *library.WorkRecord) {
		if rec.Title == "" {
			rec.Title = string(id)
		}
		rec.TotalPlayTimeSeconds += seconds
		rec.LastPlayedAt = &now
	})
	if err != nil {
		return err
	}

	if r.sessions != nil {
		started := now.Add(-time.Duration(seconds) * time.Second)
		if err := r.sessions.Append(id, started, seconds); err != nil {
			// Ledger is supplemental; the record already carries the total.
			r.logger.Warn().Err(err).Str("id", string(id)).Msg("session ledger append failed")
		}
	}

	r.logger.Info().
		Str("id", string(id)).
		Int64("seconds", seconds).
		Msg("play session recorded")

	return nil
}

// ResetPlayTime clears a work's accumulated play time and history.
func (r *Recorder) ResetPlayTime(id library.WorkID) error {
	err := r.cache.Update(id, func(rec *library.WorkRecord) {
		rec.TotalPlayTimeSeconds = 0
		rec.LastPlayedAt = nil
	})
	if err != nil {
		return err
	}
	if r.sessions != nil {
		if err := r.sessions.Purge(id); err != nil {
			r.logger.Warn().Err(err).Str("id", string(id)).Msg("session ledger purge failed")
		}
	}
	return nil
}

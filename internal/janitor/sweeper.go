// Package janitor ends sessions whose lifetime has run out and prunes
// tokens, sessions and audit entries past their retention window.
package janitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
)

// SessionStore is the subset of the session repository the sweeper needs.
type SessionStore interface {
	EndExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (tokens, sessions int64, err error)
}

// AuditStore removes audit entries older than a cutoff.
type AuditStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls retention.  A zero retention disables that pass.
type Config struct {
	Interval       time.Duration
	TokenRetention time.Duration
	AuditRetention time.Duration
}

// Result counts the rows touched by one sweep.  EndedSessions were marked
// inactive; the others were deleted.
type Result struct {
	EndedSessions int64
	OldTokens     int64
	OldSessions   int64
	AuditEntries  int64
}

type Sweeper struct {
	sessions SessionStore
	audit    AuditStore
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

func New(sessions SessionStore, audit AuditStore, cfg Config, log zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Sweeper{
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		log:      log.With().Str("component", "janitor").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Msg("sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs every enabled pass.  A failing pass does not stop the
// others; the first error is returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var (
		res      Result
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	now := s.now()

	// Expired tokens stay until retention so a late refresh still reads as expired.
	n, err := s.sessions.EndExpiredSessions(ctx, now)
	keep(err)
	res.EndedSessions = n

	if s.cfg.TokenRetention > 0 {
		toks, sess, err := s.sessions.DeleteCreatedBefore(ctx, now.Add(-s.cfg.TokenRetention))
		keep(err)
		res.OldTokens, res.OldSessions = toks, sess
	}
	if s.cfg.AuditRetention > 0 && s.audit != nil {
		n, err := s.audit.DeleteOlderThan(ctx, now.Add(-s.cfg.AuditRetention))
		keep(err)
		res.AuditEntries = n
	}

	obs.SweepDeletedTotal.WithLabelValues("refresh_tokens").Add(float64(res.OldTokens))
	obs.SweepDeletedTotal.WithLabelValues("sessions").Add(float64(res.OldSessions))
	obs.SweepDeletedTotal.WithLabelValues("audit_logs").Add(float64(res.AuditEntries))

	s.log.Info().
		Int64("ended_sessions", res.EndedSessions).
		Int64("old_tokens", res.OldTokens).
		Int64("old_sessions", res.OldSessions).
		Int64("audit_entries", res.AuditEntries).
		Msg("sweep complete")
	return res, firstErr
}

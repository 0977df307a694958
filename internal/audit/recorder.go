// Package audit records security-relevant actions without ever failing the
// request that caused them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/ids"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
)

// Store persists audit entries.
type Store interface {
	Create(ctx context.Context, e *model.AuditLog) error
}

// Recorder writes entries asynchronously.  Record returns immediately; the
// write runs on its own goroutine with a detached, bounded context so a
// cancelled request still gets its trail.  Failures are logged and counted.
type Recorder struct {
	store   Store
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

type Option func(*Recorder)

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRecorder(store Store, log zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		log:     log.With().Str("component", "audit").Logger(),
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record schedules e for persistence.  ID, CreatedAt and Status are filled
// in when empty.
func (r *Recorder) Record(e model.AuditLog) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if e.ID == "" {
		e.ID = ids.NewSortable(e.CreatedAt)
	}
	if e.Status == "" {
		e.Status = model.StatusSuccess
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				obs.AuditWriteFailures.Inc()
				r.log.Error().Interface("panic", p).Str("action", e.Action).Msg("audit write panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.store.Create(ctx, &e); err != nil {
			obs.AuditWriteFailures.Inc()
			r.log.Error().Err(err).Str("action", e.Action).Str("status", e.Status).Msg("audit write failed")
		}
	}()
}

// Wait blocks until every scheduled write has finished.  Called on
// shutdown, and by tests that assert on the store.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/repository/repofake"
)

func TestRecordFillsDefaults(t *testing.T) {
	store := repofake.NewAudit()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	r := NewRecorder(store, zerolog.Nop(), WithClock(func() time.Time { return at }))

	r.Record(model.AuditLog{Action: model.ActionLogin})
	r.Wait()

	entries := store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusSuccess, entries[0].Status)
	assert.Equal(t, at, entries[0].CreatedAt)
	assert.Len(t, entries[0].ID, 26)
}

func TestRecordSwallowsStoreErrors(t *testing.T) {
	store := repofake.NewAudit()
	store.Err = errors.New("disk full")
	r := NewRecorder(store, zerolog.Nop())

	before := testutil.ToFloat64(obs.AuditWriteFailures)
	r.Record(model.AuditLog{Action: model.ActionLogout})
	r.Wait()

	assert.Empty(t, store.Entries())
	assert.Equal(t, before+1, testutil.ToFloat64(obs.AuditWriteFailures))
}

func TestRecordKeepsExplicitFields(t *testing.T) {
	store := repofake.NewAudit()
	r := NewRecorder(store, zerolog.Nop())
	at := time.Now().UTC().Add(-time.Hour)

	r.Record(model.AuditLog{ID: "fixed", Action: model.ActionLoginFailed, Status: model.StatusFailure, CreatedAt: at})
	r.Wait()

	e := store.Entries()[0]
	assert.Equal(t, "fixed", e.ID)
	assert.Equal(t, model.StatusFailure, e.Status)
	assert.Equal(t, at, e.CreatedAt)
}

package repofake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

type Audit struct {
	lock    sync.RWMutex
	entries []model.AuditLog
	Err     error // returned by Create when set
}

func NewAudit() *Audit { return &Audit{} }

func (r *Audit) Create(_ context.Context, e *model.AuditLog) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.Err != nil {
		return r.Err
	}
	r.entries = append(r.entries, *e)
	return nil
}

func (r *Audit) List(_ context.Context, f model.AuditFilter) (model.AuditPage, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var matched []model.AuditLog
	for _, e := range r.entries {
		if f.UserID != nil && (e.UserID == nil || *e.UserID != *f.UserID) {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	page := model.AuditPage{Items: []model.AuditLog{}, Total: int64(len(matched)), Limit: limit, Skip: f.Offset}
	for i := f.Offset; i < len(matched) && len(page.Items) < limit; i++ {
		page.Items = append(page.Items, matched[i])
	}
	return page, nil
}

func (r *Audit) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	kept := r.entries[:0]
	var n int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

// Entries returns a copy of everything recorded.
func (r *Audit) Entries() []model.AuditLog {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return append([]model.AuditLog(nil), r.entries...)
}

// ByAction returns the recorded entries with the given action.
func (r *Audit) ByAction(action string) []model.AuditLog {
	var out []model.AuditLog
	for _, e := range r.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Put appends e as-is, for arranging test state.
func (r *Audit) Put(e model.AuditLog) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.entries = append(r.entries, e)
}

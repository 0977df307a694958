package service

import (
	"context"
	"fmt"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

// AuditLister reads the audit trail.
type AuditLister interface {
	List(ctx context.Context, f model.AuditFilter) (model.AuditPage, error)
}

// AuditService serves the admin audit listing.
type AuditService struct {
	store AuditLister
}

func NewAuditService(store AuditLister) *AuditService {
	return &AuditService{store: store}
}

// List returns one page of entries, newest first.
func (s *AuditService) List(ctx context.Context, f model.AuditFilter) (model.AuditPage, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return model.AuditPage{}, invalid("limit and skip must not be negative")
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return model.AuditPage{}, invalid("until is before since")
	}
	page, err := s.store.List(ctx, f)
	if err != nil {
		return model.AuditPage{}, fmt.Errorf("list audit: %w", err)
	}
	return page, nil
}

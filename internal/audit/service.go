package audit

import (
	"context"
	"fmt"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RepositoryPort defines timeline access.
type RepositoryPort interface {
	Timeline(ctx context.Context, filter Filter) ([]Entry, int64, error)
}

// Page is one timeline page.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int64   `json:"total"`
}

// Service serves the audit timeline. Restricted roles only see their own
// branch.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit entries.
func (s *Service) Timeline(ctx context.Context, filter Filter) (Page, error) {
	ident, ok := shared.IdentityFromContext(ctx)
	if !ok {
		return Page{}, fmt.Errorf("audit: caller identity missing: %w", shared.ErrPermissionDenied)
	}
	if !ident.Unrestricted() {
		if filter.Branch == "" {
			filter.Branch = ident.Branch
		}
		if filter.Branch != ident.Branch {
			return Page{}, fmt.Errorf("audit: branch %s not accessible: %w", filter.Branch, shared.ErrPermissionDenied)
		}
	}
	entries, total, err := s.repo.Timeline(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Total: total}, nil
}

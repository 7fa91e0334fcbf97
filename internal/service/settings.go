package service

import (
	"context"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// GetSettings returns the actor's retrieval settings, defaults when none
// were saved. Admins may read any tenant's settings.
func (s *Service) GetSettings(ctx context.Context, actor model.Tenant, tenantID int64) (model.TenantSettings, error) {
	if tenantID != actor.ID && !actor.Admin {
		return model.TenantSettings{}, kberrors.Forbidden("tenant %d cannot read settings of tenant %d", actor.ID, tenantID)
	}
	return s.store.GetSettings(ctx, tenantID)
}

// UpdateSettings validates and saves per-tenant retrieval settings.
func (s *Service) UpdateSettings(ctx context.Context, actor model.Tenant, settings model.TenantSettings) (model.TenantSettings, error) {
	if settings.TenantID != actor.ID && !actor.Admin {
		return model.TenantSettings{}, kberrors.Forbidden("tenant %d cannot change settings of tenant %d", actor.ID, settings.TenantID)
	}
	if settings.TopK < 1 || settings.TopK > 50 {
		return model.TenantSettings{}, kberrors.Validation("top_k must be in [1, 50], got %d", settings.TopK)
	}
	if settings.Temperature < 0 || settings.Temperature > 2 {
		return model.TenantSettings{}, kberrors.Validation("temperature must be in [0, 2], got %g", settings.Temperature)
	}
	if settings.EnableRerank && (settings.RerankProvider == "" || settings.RerankProvider == "none") {
		return model.TenantSettings{}, kberrors.Validation("rerank is enabled but no rerank provider is set")
	}

	if err := s.store.UpsertSettings(ctx, settings); err != nil {
		return model.TenantSettings{}, err
	}
	return s.store.GetSettings(ctx, settings.TenantID)
}

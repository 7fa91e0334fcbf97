package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// AddReviewAction appends an audit row and fills its ID and CreatedAt.
func (p *Postgres) AddReviewAction(ctx context.Context, a *model.ReviewAction) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO review_actions (document_id, reviewer_id, action, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		a.DocumentID, a.ReviewerID, a.Action, a.Reason,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "inserting review action", err)
	}
	return nil
}

// ListReviewActions returns a document's audit log, oldest first.
func (p *Postgres) ListReviewActions(ctx context.Context, documentID int64) ([]model.ReviewAction, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, reviewer_id, action, reason, created_at
		FROM review_actions WHERE document_id = $1
		ORDER BY created_at ASC, id ASC`, documentID)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "listing review actions", err)
	}
	defer rows.Close()

	var actions []model.ReviewAction
	for rows.Next() {
		var a model.ReviewAction
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.ReviewerID, &a.Action, &a.Reason, &a.CreatedAt); err != nil {
			return nil, kberrors.New(kberrors.CodeDB, "scanning review action", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// GetSettings loads a tenant's settings, falling back to defaults when no
// row exists.
func (p *Postgres) GetSettings(ctx context.Context, tenantID int64) (model.TenantSettings, error) {
	var s model.TenantSettings
	err := p.pool.QueryRow(ctx, `
		SELECT tenant_id, llm_provider, llm_model, embedding_provider, embedding_model,
			top_k, temperature, rerank_enabled, rerank_provider, rerank_model, updated_at
		FROM tenant_settings WHERE tenant_id = $1`, tenantID).
		Scan(&s.TenantID, &s.LLMProvider, &s.LLMModel, &s.EmbeddingProvider, &s.EmbeddingModel,
			&s.TopK, &s.Temperature, &s.EnableRerank, &s.RerankProvider, &s.RerankModel, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultTenantSettings(tenantID), nil
	}
	if err != nil {
		return model.TenantSettings{}, kberrors.New(kberrors.CodeDB, "loading tenant settings", err)
	}
	return s, nil
}

// UpsertSettings writes a tenant's settings row.
func (p *Postgres) UpsertSettings(ctx context.Context, s model.TenantSettings) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, llm_provider, llm_model,
			embedding_provider, embedding_model, top_k, temperature,
			rerank_enabled, rerank_provider, rerank_model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			llm_provider = EXCLUDED.llm_provider,
			llm_model = EXCLUDED.llm_model,
			embedding_provider = EXCLUDED.embedding_provider,
			embedding_model = EXCLUDED.embedding_model,
			top_k = EXCLUDED.top_k,
			temperature = EXCLUDED.temperature,
			rerank_enabled = EXCLUDED.rerank_enabled,
			rerank_provider = EXCLUDED.rerank_provider,
			rerank_model = EXCLUDED.rerank_model,
			updated_at = now()`,
		s.TenantID, s.LLMProvider, s.LLMModel, s.EmbeddingProvider, s.EmbeddingModel,
		s.TopK, s.Temperature, s.EnableRerank, s.RerankProvider, s.RerankModel)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "upserting tenant settings", err)
	}
	return nil
}

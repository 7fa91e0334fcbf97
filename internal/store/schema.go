package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuforge/kbase/internal/kberrors"
)

// schema is the metadata DDL. Statements are idempotent so Migrate can run
// on every startup.
//
// uq_chunks_doc_idx is DEFERRABLE: renumbering shifts chunk_index values
// inside a transaction, which transiently collides under IMMEDIATE checks.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id               BIGSERIAL PRIMARY KEY,
		owner_id         BIGINT NOT NULL,
		uploader_id      BIGINT NOT NULL DEFAULT 0,
		reviewer_id      BIGINT NOT NULL DEFAULT 0,
		filename         TEXT NOT NULL,
		content_type     TEXT NOT NULL,
		size_bytes       BIGINT NOT NULL,
		sha256           TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'uploaded',
		preview_text     TEXT NOT NULL DEFAULT '',
		bucket           TEXT NOT NULL DEFAULT '',
		object_key       TEXT NOT NULL DEFAULT '',
		markdown_key     TEXT NOT NULL DEFAULT '',
		conversion       TEXT NOT NULL DEFAULT 'pending',
		conversion_error TEXT NOT NULL DEFAULT '',
		reject_reason    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		confirmed_at     TIMESTAMPTZ,
		reviewed_at      TIMESTAMPTZ,
		indexed_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_status_owner ON documents (status, owner_id)`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id          BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INT NOT NULL,
		content     TEXT NOT NULL,
		char_count  INT NOT NULL DEFAULT 0,
		included    BOOLEAN NOT NULL DEFAULT true,
		CONSTRAINT uq_chunks_doc_idx UNIQUE (document_id, chunk_index)
			DEFERRABLE INITIALLY IMMEDIATE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id)`,

	`CREATE TABLE IF NOT EXISTS review_actions (
		id          BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL,
		reviewer_id BIGINT NOT NULL,
		action      TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_review_actions_document ON review_actions (document_id)`,

	`CREATE TABLE IF NOT EXISTS tenant_settings (
		tenant_id          BIGINT PRIMARY KEY,
		llm_provider       TEXT NOT NULL DEFAULT 'ollama',
		llm_model          TEXT NOT NULL DEFAULT 'qwen2.5:32b',
		embedding_provider TEXT NOT NULL DEFAULT '',
		embedding_model    TEXT NOT NULL DEFAULT '',
		top_k              INT NOT NULL DEFAULT 5,
		temperature        DOUBLE PRECISION NOT NULL DEFAULT 0.7,
		rerank_enabled     BOOLEAN NOT NULL DEFAULT false,
		rerank_provider    TEXT NOT NULL DEFAULT 'none',
		rerank_model       TEXT NOT NULL DEFAULT '',
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the metadata schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return kberrors.New(kberrors.CodeDB, "applying schema", err)
		}
	}
	return nil
}

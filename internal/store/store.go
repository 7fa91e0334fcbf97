// Package store owns all metadata persistence. Postgres rows are the
// canonical record; blobs and vectors are derived projections.
package store

import (
	"context"

	"github.com/docuforge/kbase/internal/model"
)

// DocumentFilter scopes document listings.
type DocumentFilter struct {
	// OwnerID restricts results to one tenant. 0 means all tenants.
	OwnerID int64
	// Statuses restricts results to the given statuses. Empty means all.
	Statuses []model.DocumentStatus
	// IncludeRejected includes rejected documents. They are hidden by
	// default so rejected uploads do not clutter listings.
	IncludeRejected bool
	Page            int
	PageSize        int
}

// PendingReview is a confirmed, conversion-ready document awaiting review.
type PendingReview struct {
	Document   model.Document
	ChunkCount int
}

// ChunkPatch is a partial chunk update. Nil fields are left unchanged.
type ChunkPatch struct {
	Content  *string
	Included *bool
}

// Store is the metadata repository contract.
type Store interface {
	// Documents.
	CreateDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, id int64) (*model.Document, error)
	UpdateDocument(ctx context.Context, d *model.Document) error
	DeleteDocument(ctx context.Context, id int64) error
	ListDocuments(ctx context.Context, f DocumentFilter) ([]model.Document, int, error)
	ListPendingReview(ctx context.Context) ([]PendingReview, error)
	// ListByStatus returns all documents in any of the given statuses,
	// unpaginated. Used by reconciliation.
	ListByStatus(ctx context.Context, statuses ...model.DocumentStatus) ([]model.Document, error)

	// Chunks. chunk_index stays dense 0..N-1 across every mutation.
	ReplaceChunks(ctx context.Context, documentID int64, contents []string) ([]model.Chunk, error)
	ListChunks(ctx context.Context, documentID int64, page, pageSize int) ([]model.Chunk, int, error)
	GetChunk(ctx context.Context, documentID int64, index int) (*model.Chunk, error)
	AppendChunk(ctx context.Context, documentID int64, content string) (*model.Chunk, error)
	UpdateChunk(ctx context.Context, documentID int64, index int, patch ChunkPatch) (*model.Chunk, error)
	DeleteChunk(ctx context.Context, documentID int64, index int) error
	IncludedChunks(ctx context.Context, documentID int64) ([]model.Chunk, error)
	CountChunks(ctx context.Context, documentID int64) (int, error)

	// Review audit log, append-only.
	AddReviewAction(ctx context.Context, a *model.ReviewAction) error
	ListReviewActions(ctx context.Context, documentID int64) ([]model.ReviewAction, error)

	// Tenant settings.
	GetSettings(ctx context.Context, tenantID int64) (model.TenantSettings, error)
	UpsertSettings(ctx context.Context, s model.TenantSettings) error
}

// Package reconcile restores the derived vector index from the canonical
// metadata rows. It is the recovery path after embedding model switches,
// index loss, or drift from unsynced chunk edits.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/provider"
	"github.com/docuforge/kbase/internal/store"
	"github.com/docuforge/kbase/internal/vector"
)

// Service rebuilds vectors from chunks.
type Service struct {
	store    store.Store
	index    vector.Index
	registry *provider.Registry
	log      *slog.Logger
}

// New wires a reconciliation service.
func New(st store.Store, index vector.Index, registry *provider.Registry, log *slog.Logger) *Service {
	return &Service{store: st, index: index, registry: registry, log: log}
}

// RebuildVectors drops and re-derives every vector of one document.
func (s *Service) RebuildVectors(ctx context.Context, documentID int64) error {
	d, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	partition := model.Partition(d.OwnerID)

	if err := s.index.DeleteDocument(ctx, partition, documentID); err != nil {
		return err
	}

	chunks, err := s.store.IncludedChunks(ctx, documentID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	embedder, err := s.embedderFor(ctx, d.OwnerID)
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vector.Entry{DocumentID: documentID, ChunkIndex: c.Index, Vector: vectors[i]}
	}
	return s.index.Upsert(ctx, partition, entries)
}

// ReembedChunk re-derives a single chunk's vector, removing it instead
// when the chunk is excluded.
func (s *Service) ReembedChunk(ctx context.Context, documentID int64, chunkIndex int) error {
	d, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	c, err := s.store.GetChunk(ctx, documentID, chunkIndex)
	if err != nil {
		return err
	}
	partition := model.Partition(d.OwnerID)

	if !c.Included {
		return s.index.DeleteChunk(ctx, partition, documentID, chunkIndex)
	}

	embedder, err := s.embedderFor(ctx, d.OwnerID)
	if err != nil {
		return err
	}
	v, err := embedder.Embed(ctx, c.Content)
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, partition, []vector.Entry{
		{DocumentID: documentID, ChunkIndex: chunkIndex, Vector: v},
	})
}

// Filter scopes a bulk reindex.
type Filter struct {
	// OwnerID restricts to one tenant. 0 means all tenants.
	OwnerID int64
	// Statuses restricts which documents rebuild. Empty means indexed only.
	Statuses []model.DocumentStatus
}

// Failure is one document that could not be rebuilt.
type Failure struct {
	DocumentID int64
	Reason     string
}

// Summary is the outcome of a bulk reindex.
type Summary struct {
	OK     []int64
	Failed []Failure
}

// Reindex rebuilds vectors for every matching document sequentially,
// logging per-document outcomes. One failure never stops the run.
func (s *Service) Reindex(ctx context.Context, f Filter) (Summary, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []model.DocumentStatus{model.StatusIndexed}
	}

	docs, err := s.store.ListByStatus(ctx, statuses...)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, d := range docs {
		if f.OwnerID != 0 && d.OwnerID != f.OwnerID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := s.RebuildVectors(ctx, d.ID); err != nil {
			s.log.Error("rebuild_failed",
				slog.Int64("document_id", d.ID), slog.String("error", err.Error()))
			summary.Failed = append(summary.Failed, Failure{DocumentID: d.ID, Reason: err.Error()})
			continue
		}
		s.log.Info("rebuild_ok", slog.Int64("document_id", d.ID))
		summary.OK = append(summary.OK, d.ID)
	}
	return summary, nil
}

func (s *Service) embedderFor(ctx context.Context, ownerID int64) (provider.Embedder, error) {
	settings, err := s.store.GetSettings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.registry.Embedder(settings)
}

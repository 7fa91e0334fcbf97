package service

import (
	"context"
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/store"
	"github.com/docuforge/kbase/internal/vector"
)

// ListChunks returns one page of a document's chunks.
func (s *Service) ListChunks(ctx context.Context, actor model.Tenant, id int64, page, pageSize int) ([]model.Chunk, int, error) {
	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return nil, 0, err
	}
	return s.store.ListChunks(ctx, id, page, pageSize)
}

// CreateChunk appends a chunk. On an indexed document with syncVectors the
// new chunk's embedding is upserted immediately.
func (s *Service) CreateChunk(ctx context.Context, actor model.Tenant, id int64, content string, syncVectors bool) (*model.Chunk, error) {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, kberrors.Validation("chunk content must not be empty")
	}

	c, err := s.store.AppendChunk(ctx, id, content)
	if err != nil {
		return nil, err
	}
	if syncVectors && d.Status == model.StatusIndexed {
		if err := s.upsertChunkVector(ctx, d, c); err != nil {
			return c, err
		}
	}
	return c, nil
}

// UpdateChunk applies a partial edit. With syncVectors on an indexed
// document, content edits re-embed the chunk, excluding removes its
// vector, and re-including reinserts it.
func (s *Service) UpdateChunk(ctx context.Context, actor model.Tenant, id int64, index int, patch store.ChunkPatch, syncVectors bool) (*model.Chunk, error) {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return nil, kberrors.Validation("chunk content must not be empty")
	}

	c, err := s.store.UpdateChunk(ctx, id, index, patch)
	if err != nil {
		return nil, err
	}
	if !syncVectors || d.Status != model.StatusIndexed {
		return c, nil
	}

	if !c.Included {
		if err := s.index.DeleteChunk(ctx, model.Partition(d.OwnerID), id, index); err != nil {
			return c, err
		}
		return c, nil
	}
	if err := s.upsertChunkVector(ctx, d, c); err != nil {
		return c, err
	}
	return c, nil
}

// DeleteChunk removes a chunk. The renumbering shifts every following
// chunk's index key, so on an indexed document with syncVectors the whole
// document's vectors are rebuilt.
func (s *Service) DeleteChunk(ctx context.Context, actor model.Tenant, id int64, index int, syncVectors bool) error {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChunk(ctx, id, index); err != nil {
		return err
	}
	if !syncVectors || d.Status != model.StatusIndexed {
		return nil
	}
	return s.rebuildDocumentVectors(ctx, d)
}

// upsertChunkVector embeds one chunk and writes its vector.
func (s *Service) upsertChunkVector(ctx context.Context, d *model.Document, c *model.Chunk) error {
	settings, err := s.store.GetSettings(ctx, d.OwnerID)
	if err != nil {
		return err
	}
	embedder, err := s.registry.Embedder(settings)
	if err != nil {
		return err
	}
	v, err := embedder.Embed(ctx, c.Content)
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, model.Partition(d.OwnerID), []vector.Entry{
		{DocumentID: d.ID, ChunkIndex: c.Index, Vector: v},
	})
}

// rebuildDocumentVectors re-derives every vector of a document from its
// included chunks.
func (s *Service) rebuildDocumentVectors(ctx context.Context, d *model.Document) error {
	partition := model.Partition(d.OwnerID)
	if err := s.index.DeleteDocument(ctx, partition, d.ID); err != nil {
		return err
	}

	chunks, err := s.store.IncludedChunks(ctx, d.ID)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	settings, err := s.store.GetSettings(ctx, d.OwnerID)
	if err != nil {
		return err
	}
	embedder, err := s.registry.Embedder(settings)
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
		entries[i] = vector.Entry{DocumentID: d.ID, ChunkIndex: c.Index, Vector: vectors[i]}
	}
	return s.index.Upsert(ctx, partition, entries)
}

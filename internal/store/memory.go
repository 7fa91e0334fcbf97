package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/docuforge/kbase/internal/convert"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu        sync.RWMutex
	documents map[int64]*model.Document
	chunks    map[int64][]model.Chunk
	reviews   []model.ReviewAction
	settings  map[int64]model.TenantSettings

	nextDocID    int64
	nextChunkID  int64
	nextReviewID int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[int64]*model.Document),
		chunks:    make(map[int64][]model.Chunk),
		settings:  make(map[int64]model.TenantSettings),
	}
}

func (m *Memory) CreateDocument(_ context.Context, d *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDocID++
	d.ID = m.nextDocID
	d.CreatedAt = time.Now()
	cp := *d
	m.documents[d.ID] = &cp
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id int64) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, kberrors.NotFound("document %d not found", id)
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) UpdateDocument(_ context.Context, d *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[d.ID]; !ok {
		return kberrors.NotFound("document %d not found", d.ID)
	}
	cp := *d
	m.documents[d.ID] = &cp
	return nil
}

func (m *Memory) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return kberrors.NotFound("document %d not found", id)
	}
	delete(m.documents, id)
	delete(m.chunks, id)
	return nil
}

func (m *Memory) ListDocuments(_ context.Context, f DocumentFilter) ([]model.Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []model.Document
	for _, d := range m.documents {
		if f.OwnerID != 0 && d.OwnerID != f.OwnerID {
			continue
		}
		if len(f.Statuses) > 0 {
			found := false
			for _, s := range f.Statuses {
				if d.Status == s {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		} else if !f.IncludeRejected && d.Status == model.StatusRejected {
			continue
		}
		matched = append(matched, *d)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page, pageSize := normalizePage(f.Page, f.PageSize)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *Memory) ListPendingReview(_ context.Context) ([]PendingReview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PendingReview
	for _, d := range m.documents {
		if d.Status != model.StatusConfirmed || d.Conversion != model.ConversionReady {
			continue
		}
		out = append(out, PendingReview{Document: *d, ChunkCount: len(m.chunks[d.ID])})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Document, out[j].Document
		if !a.ConfirmedAt.Equal(b.ConfirmedAt) {
			return a.ConfirmedAt.Before(b.ConfirmedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *Memory) ListByStatus(_ context.Context, statuses ...model.DocumentStatus) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Document
	for _, d := range m.documents {
		for _, s := range statuses {
			if d.Status == s {
				out = append(out, *d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReplaceChunks(_ context.Context, documentID int64, contents []string) ([]model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunks := make([]model.Chunk, 0, len(contents))
	for i, content := range contents {
		content = convert.StripNUL(content)
		m.nextChunkID++
		chunks = append(chunks, model.Chunk{
			ID:         m.nextChunkID,
			DocumentID: documentID,
			Index:      i,
			Content:    content,
			CharCount:  len([]rune(content)),
			Included:   true,
		})
	}
	m.chunks[documentID] = chunks
	return append([]model.Chunk(nil), chunks...), nil
}

func (m *Memory) ListChunks(_ context.Context, documentID int64, page, pageSize int) ([]model.Chunk, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.chunks[documentID]
	total := len(all)
	page, pageSize = normalizePage(page, pageSize)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return append([]model.Chunk(nil), all[start:end]...), total, nil
}

func (m *Memory) GetChunk(_ context.Context, documentID int64, index int) (*model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.chunks[documentID]
	if index < 0 || index >= len(all) {
		return nil, kberrors.NotFound("chunk %d of document %d not found", index, documentID)
	}
	cp := all[index]
	return &cp, nil
}

func (m *Memory) AppendChunk(_ context.Context, documentID int64, content string) (*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content = convert.StripNUL(content)
	m.nextChunkID++
	c := model.Chunk{
		ID:         m.nextChunkID,
		DocumentID: documentID,
		Index:      len(m.chunks[documentID]),
		Content:    content,
		CharCount:  len([]rune(content)),
		Included:   true,
	}
	m.chunks[documentID] = append(m.chunks[documentID], c)
	return &c, nil
}

func (m *Memory) UpdateChunk(_ context.Context, documentID int64, index int, patch ChunkPatch) (*model.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.chunks[documentID]
	if index < 0 || index >= len(all) {
		return nil, kberrors.NotFound("chunk %d of document %d not found", index, documentID)
	}
	c := &all[index]
	if patch.Content != nil {
		c.Content = convert.StripNUL(*patch.Content)
		c.CharCount = len([]rune(c.Content))
	}
	if patch.Included != nil {
		c.Included = *patch.Included
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) DeleteChunk(_ context.Context, documentID int64, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.chunks[documentID]
	if index < 0 || index >= len(all) {
		return kberrors.NotFound("chunk %d of document %d not found", index, documentID)
	}
	all = append(all[:index], all[index+1:]...)
	for i := range all {
		all[i].Index = i
	}
	m.chunks[documentID] = all
	return nil
}

func (m *Memory) IncludedChunks(_ context.Context, documentID int64) ([]model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Chunk
	for _, c := range m.chunks[documentID] {
		if c.Included {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) CountChunks(_ context.Context, documentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[documentID]), nil
}

func (m *Memory) AddReviewAction(_ context.Context, a *model.ReviewAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextReviewID++
	a.ID = m.nextReviewID
	a.CreatedAt = time.Now()
	m.reviews = append(m.reviews, *a)
	return nil
}

func (m *Memory) ListReviewActions(_ context.Context, documentID int64) ([]model.ReviewAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ReviewAction
	for _, a := range m.reviews {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) GetSettings(_ context.Context, tenantID int64) (model.TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.settings[tenantID]; ok {
		return s, nil
	}
	return model.DefaultTenantSettings(tenantID), nil
}

func (m *Memory) UpsertSettings(_ context.Context, s model.TenantSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now()
	m.settings[s.TenantID] = s
	return nil
}

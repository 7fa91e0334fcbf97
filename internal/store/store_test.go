package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

func newDoc(owner int64, status model.DocumentStatus) *model.Document {
	return &model.Document{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		SizeBytes:   1024,
		SHA256:      "abc123",
		Status:      status,
		OwnerID:     owner,
		UploaderID:  owner,
		Conversion:  model.ConversionPending,
	}
}

func TestMemoryDocumentCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d := newDoc(1, model.StatusUploaded)
	require.NoError(t, m.CreateDocument(ctx, d))
	assert.NotZero(t, d.ID)
	assert.False(t, d.CreatedAt.IsZero())

	got, err := m.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, model.StatusUploaded, got.Status)

	got.Status = model.StatusConfirmed
	got.ConfirmedAt = time.Now()
	require.NoError(t, m.UpdateDocument(ctx, got))

	got2, err := m.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got2.Status)

	require.NoError(t, m.DeleteDocument(ctx, d.ID))
	_, err = m.GetDocument(ctx, d.ID)
	assert.Equal(t, kberrors.CodeNotFound, kberrors.GetCode(err))
}

func TestMemoryGetDocumentNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetDocument(context.Background(), 999)
	require.Error(t, err)
	assert.Equal(t, kberrors.CodeNotFound, kberrors.GetCode(err))
}

func TestMemoryListDocumentsFiltering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	statuses := []model.DocumentStatus{
		model.StatusUploaded, model.StatusIndexed, model.StatusRejected,
	}
	for i, s := range statuses {
		d := newDoc(int64(i%2+1), s)
		require.NoError(t, m.CreateDocument(ctx, d))
	}

	// Rejected is hidden unless asked for.
	docs, total, err := m.ListDocuments(ctx, DocumentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, d := range docs {
		assert.NotEqual(t, model.StatusRejected, d.Status)
	}

	_, total, err = m.ListDocuments(ctx, DocumentFilter{IncludeRejected: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	// Explicit status filter overrides the rejected default.
	docs, total, err = m.ListDocuments(ctx, DocumentFilter{
		Statuses: []model.DocumentStatus{model.StatusRejected},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, model.StatusRejected, docs[0].Status)

	// Owner scoping.
	_, total, err = m.ListDocuments(ctx, DocumentFilter{OwnerID: 1, IncludeRejected: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMemoryListDocumentsPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.CreateDocument(ctx, newDoc(1, model.StatusUploaded)))
	}

	docs, total, err := m.ListDocuments(ctx, DocumentFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, docs, 2)

	docs, _, err = m.ListDocuments(ctx, DocumentFilter{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, _, err = m.ListDocuments(ctx, DocumentFilter{Page: 4, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryListPendingReview(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ready := newDoc(1, model.StatusConfirmed)
	ready.Conversion = model.ConversionReady
	ready.ConfirmedAt = time.Now().Add(-time.Hour)
	require.NoError(t, m.CreateDocument(ctx, ready))
	_, err := m.ReplaceChunks(ctx, ready.ID, []string{"a", "b", "c"})
	require.NoError(t, err)

	notReady := newDoc(1, model.StatusConfirmed)
	require.NoError(t, m.CreateDocument(ctx, notReady))

	uploaded := newDoc(1, model.StatusUploaded)
	uploaded.Conversion = model.ConversionReady
	require.NoError(t, m.CreateDocument(ctx, uploaded))

	pending, err := m.ListPendingReview(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ready.ID, pending[0].Document.ID)
	assert.Equal(t, 3, pending[0].ChunkCount)
}

func TestMemoryReplaceChunks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d := newDoc(1, model.StatusUploaded)
	require.NoError(t, m.CreateDocument(ctx, d))

	chunks, err := m.ReplaceChunks(ctx, d.ID, []string{"first", "second\x00with nul"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, "secondwith nul", chunks[1].Content)
	assert.True(t, chunks[0].Included)
	assert.Equal(t, 5, chunks[0].CharCount)

	// A replace drops the old set entirely.
	chunks, err = m.ReplaceChunks(ctx, d.ID, []string{"only"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	n, err := m.CountChunks(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryChunkDeleteRenumbers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d := newDoc(1, model.StatusUploaded)
	require.NoError(t, m.CreateDocument(ctx, d))
	_, err := m.ReplaceChunks(ctx, d.ID, []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteChunk(ctx, d.ID, 1))

	chunks, total, err := m.ListChunks(ctx, d.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	var contents []string
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		contents = append(contents, c.Content)
	}
	assert.Equal(t, []string{"a", "c", "d"}, contents)
}

func TestMemoryAppendAndUpdateChunk(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d := newDoc(1, model.StatusUploaded)
	require.NoError(t, m.CreateDocument(ctx, d))
	_, err := m.ReplaceChunks(ctx, d.ID, []string{"a"})
	require.NoError(t, err)

	c, err := m.AppendChunk(ctx, d.ID, "appended")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Index)

	newContent := "edited"
	excluded := false
	got, err := m.UpdateChunk(ctx, d.ID, 1, ChunkPatch{Content: &newContent, Included: &excluded})
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, 6, got.CharCount)
	assert.False(t, got.Included)

	included, err := m.IncludedChunks(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, included, 1)
	assert.Equal(t, "a", included[0].Content)

	_, err = m.UpdateChunk(ctx, d.ID, 5, ChunkPatch{})
	assert.Equal(t, kberrors.CodeNotFound, kberrors.GetCode(err))
}

func TestMemoryReviewActions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := &model.ReviewAction{DocumentID: 7, ReviewerID: 2, Action: model.ReviewReject, Reason: "duplicate"}
	require.NoError(t, m.AddReviewAction(ctx, a))
	assert.NotZero(t, a.ID)

	b := &model.ReviewAction{DocumentID: 7, ReviewerID: 2, Action: model.ReviewApprove}
	require.NoError(t, m.AddReviewAction(ctx, b))

	actions, err := m.ListReviewActions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, model.ReviewReject, actions[0].Action)
	assert.Equal(t, "duplicate", actions[0].Reason)
	assert.Equal(t, model.ReviewApprove, actions[1].Action)

	actions, err = m.ListReviewActions(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestMemorySettingsDefaults(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s, err := m.GetSettings(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.TenantID)
	assert.Equal(t, "ollama", s.LLMProvider)
	assert.Equal(t, 5, s.TopK)
	assert.InDelta(t, 0.7, s.Temperature, 1e-9)

	s.TopK = 10
	s.EnableRerank = true
	s.RerankProvider = "siliconflow"
	require.NoError(t, m.UpsertSettings(ctx, s))

	got, err := m.GetSettings(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TopK)
	assert.True(t, got.EnableRerank)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name         string
		page, size   int
		wantP, wantS int
	}{
		{"defaults", 0, 0, 1, 20},
		{"negative page", -3, 50, 1, 50},
		{"oversize clamped", 2, 5000, 2, 20},
		{"valid passthrough", 3, 25, 3, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, s := normalizePage(tt.page, tt.size)
			assert.Equal(t, tt.wantP, p)
			assert.Equal(t, tt.wantS, s)
		})
	}
}

func TestPrefixColumns(t *testing.T) {
	got := prefixColumns("d", "id, owner_id,\n\tstatus")
	assert.Equal(t, "d.id, d.owner_id, d.status", got)
}

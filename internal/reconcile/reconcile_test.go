package reconcile

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/kbase/internal/config"
	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/provider"
	"github.com/docuforge/kbase/internal/store"
	"github.com/docuforge/kbase/internal/vector"
)

const dims = 16

type harness struct {
	svc   *Service
	store *store.Memory
	index vector.Index
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.NewConfig()
	st := store.NewMemory()
	idx := vector.NewHNSWIndex(t.TempDir(), dims)
	require.NoError(t, idx.EnsureReady(context.Background()))
	return &harness{
		svc:   New(st, idx, provider.NewRegistry(cfg.Provider, dims), slog.Default()),
		store: st,
		index: idx,
	}
}

func (h *harness) seed(t *testing.T, ownerID int64, status model.DocumentStatus, contents ...string) *model.Document {
	t.Helper()
	ctx := context.Background()

	d := &model.Document{
		Filename:    "seed.md",
		ContentType: "text/markdown",
		Status:      status,
		Conversion:  model.ConversionReady,
		OwnerID:     ownerID,
		UploaderID:  ownerID,
	}
	require.NoError(t, h.store.CreateDocument(ctx, d))
	if len(contents) > 0 {
		_, err := h.store.ReplaceChunks(ctx, d.ID, contents)
		require.NoError(t, err)
	}
	return d
}

func TestRebuildVectors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	d := h.seed(t, 1, model.StatusIndexed, "first chunk", "second chunk")
	require.NoError(t, h.svc.RebuildVectors(ctx, d.ID))

	n, err := h.index.Count(ctx, model.Partition(1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Rebuilding after an exclusion drops the excluded vector.
	excluded := false
	_, err = h.store.UpdateChunk(ctx, d.ID, 1, store.ChunkPatch{Included: &excluded})
	require.NoError(t, err)
	require.NoError(t, h.svc.RebuildVectors(ctx, d.ID))

	n, err = h.index.Count(ctx, model.Partition(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRebuildVectorsAllExcluded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	d := h.seed(t, 1, model.StatusIndexed, "only chunk")
	require.NoError(t, h.svc.RebuildVectors(ctx, d.ID))

	excluded := false
	_, err := h.store.UpdateChunk(ctx, d.ID, 0, store.ChunkPatch{Included: &excluded})
	require.NoError(t, err)
	require.NoError(t, h.svc.RebuildVectors(ctx, d.ID))

	n, err := h.index.Count(ctx, model.Partition(1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReembedChunk(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	d := h.seed(t, 1, model.StatusIndexed, "alpha", "beta")
	require.NoError(t, h.svc.ReembedChunk(ctx, d.ID, 0))
	require.NoError(t, h.svc.ReembedChunk(ctx, d.ID, 1))

	n, err := h.index.Count(ctx, model.Partition(1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Excluded chunks get their vector removed instead.
	excluded := false
	_, err = h.store.UpdateChunk(ctx, d.ID, 1, store.ChunkPatch{Included: &excluded})
	require.NoError(t, err)
	require.NoError(t, h.svc.ReembedChunk(ctx, d.ID, 1))

	n, err = h.index.Count(ctx, model.Partition(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReindexDefaultsToIndexed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	indexed := h.seed(t, 1, model.StatusIndexed, "indexed content")
	h.seed(t, 1, model.StatusUploaded, "not yet reviewed")

	summary, err := h.svc.Reindex(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{indexed.ID}, summary.OK)
	assert.Empty(t, summary.Failed)

	n, err := h.index.Count(ctx, model.Partition(1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReindexOwnerFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mine := h.seed(t, 1, model.StatusIndexed, "tenant one")
	h.seed(t, 2, model.StatusIndexed, "tenant two")

	summary, err := h.svc.Reindex(ctx, Filter{OwnerID: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{mine.ID}, summary.OK)

	n, err := h.index.Count(ctx, model.Partition(2))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReindexCollectsFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// An embedder the registry cannot build fails the document without
	// stopping the run.
	broken := h.seed(t, 1, model.StatusIndexed, "broken tenant")
	settings := model.DefaultTenantSettings(1)
	settings.EmbeddingProvider = "no-such-provider"
	require.NoError(t, h.store.UpsertSettings(ctx, settings))

	fine := h.seed(t, 2, model.StatusIndexed, "healthy tenant")

	summary, err := h.svc.Reindex(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{fine.ID}, summary.OK)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, broken.ID, summary.Failed[0].DocumentID)
	assert.NotEmpty(t, summary.Failed[0].Reason)
}

func TestReindexHonorsContext(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, model.StatusIndexed, "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Reindex(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

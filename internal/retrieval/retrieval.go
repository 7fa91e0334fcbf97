// Package retrieval owns the vector side of the system: turning approved
// documents into index entries and answering grounded questions from them.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/provider"
	"github.com/docuforge/kbase/internal/store"
	"github.com/docuforge/kbase/internal/vector"
)

const (
	// maxRetrieve caps the candidate set regardless of rerank expansion.
	maxRetrieve = 100
	// rerankFactor over-fetches candidates when a reranker will reorder.
	rerankFactor = 4
)

// Service indexes documents and answers queries.
type Service struct {
	store    store.Store
	index    vector.Index
	registry *provider.Registry
	log      *slog.Logger
}

// New wires a retrieval service.
func New(st store.Store, index vector.Index, registry *provider.Registry, log *slog.Logger) *Service {
	return &Service{store: st, index: index, registry: registry, log: log}
}

// IndexDocument embeds every included chunk of a document and upserts the
// vectors. Point keys derive from (document_id, chunk_index), so repeated
// runs are idempotent.
func (s *Service) IndexDocument(ctx context.Context, documentID int64) error {
	d, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	chunks, err := s.store.IncludedChunks(ctx, documentID)
	if err != nil {
		return err
	}

	partition := model.Partition(d.OwnerID)
	if len(chunks) == 0 {
		// All chunks excluded: drop stale vectors and finish.
		return s.index.DeleteDocument(ctx, partition, documentID)
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
		entries[i] = vector.Entry{DocumentID: documentID, ChunkIndex: c.Index, Vector: vectors[i]}
	}
	return s.index.Upsert(ctx, partition, entries)
}

// Scope selects the partitions an admin query searches. The zero value
// means the asker's own partition.
type Scope struct {
	// All searches every tenant's partition. Admin only.
	All bool
	// UserID searches one specific tenant's partition. Admin only.
	UserID int64
}

// QueryRequest is one question with optional per-request overrides.
type QueryRequest struct {
	Text string

	// TopK overrides the tenant's setting when set. Values below 1 are
	// rejected; values above 50 clamp.
	TopK *int
	// Temperature overrides the tenant's setting when set.
	Temperature *float64
	// Provider/Model override the tenant's chat backend when set.
	Provider string
	Model    string
	// Rerank overrides the tenant's rerank toggle when set.
	Rerank      *bool
	RerankModel string

	Scope Scope
}

// Source is one evidence chunk behind an answer.
type Source struct {
	DocumentID int64
	ChunkIndex int
	Content    string
	Score      float32
}

// QueryResponse is a grounded answer with its evidence.
type QueryResponse struct {
	Answer     string
	Sources    []Source
	Confidence float32
	// Degraded is set when the LLM was unreachable and the answer is a
	// fallback note; Sources still carry the retrieved evidence.
	Degraded bool
}

// Query retrieves evidence for the question and asks the tenant's LLM for
// a grounded answer.
func (s *Service) Query(ctx context.Context, actor model.Tenant, req QueryRequest) (QueryResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return QueryResponse{}, kberrors.Validation("query text must not be empty")
	}
	if req.TopK != nil && *req.TopK < 1 {
		return QueryResponse{}, kberrors.Validation("top_k must be at least 1, got %d", *req.TopK)
	}

	settings, err := s.store.GetSettings(ctx, actor.ID)
	if err != nil {
		return QueryResponse{}, err
	}
	applyOverrides(&settings, req)

	topK := clampInt(settings.TopK, 1, 50)
	temperature := clampFloat(settings.Temperature, 0, 2)

	partitions, err := s.resolvePartitions(ctx, actor, req.Scope)
	if err != nil {
		return QueryResponse{}, err
	}

	embedder, err := s.registry.Embedder(settings)
	if err != nil {
		return QueryResponse{}, err
	}
	queryVec, err := embedder.Embed(ctx, req.Text)
	if err != nil {
		return QueryResponse{}, err
	}

	retrieve := topK
	if settings.EnableRerank {
		retrieve = topK * rerankFactor
	}
	if retrieve > maxRetrieve {
		retrieve = maxRetrieve
	}

	matches, err := s.index.Search(ctx, partitions, queryVec, retrieve)
	if err != nil {
		return QueryResponse{}, err
	}
	sortMatches(matches)

	sources := s.loadSources(ctx, matches)
	if len(sources) == 0 {
		return QueryResponse{
			Answer:  "No relevant content was found in the knowledge base.",
			Sources: nil,
		}, nil
	}

	if settings.EnableRerank {
		sources, err = s.rerank(ctx, settings, req.Text, sources)
		if err != nil {
			// Reranking is an enhancement; fall back to vector order.
			s.log.Warn("rerank_failed", slog.String("error", err.Error()))
		}
	}
	if len(sources) > topK {
		sources = sources[:topK]
	}

	confidence := float32(0)
	for _, src := range sources {
		if src.Score > confidence {
			confidence = src.Score
		}
	}
	if confidence > 1 {
		confidence = 1
	}

	answer, degraded, err := s.answer(ctx, settings, req.Text, temperature, sources)
	if err != nil {
		return QueryResponse{}, err
	}
	return QueryResponse{
		Answer:     answer,
		Sources:    sources,
		Confidence: confidence,
		Degraded:   degraded,
	}, nil
}

func applyOverrides(settings *model.TenantSettings, req QueryRequest) {
	if req.TopK != nil {
		settings.TopK = *req.TopK
	}
	if req.Temperature != nil {
		settings.Temperature = *req.Temperature
	}
	if req.Provider != "" {
		settings.LLMProvider = req.Provider
	}
	if req.Model != "" {
		settings.LLMModel = req.Model
	}
	if req.Rerank != nil {
		settings.EnableRerank = *req.Rerank
	}
	if req.RerankModel != "" {
		settings.RerankModel = req.RerankModel
	}
}

// resolvePartitions maps the asker and scope to concrete partitions.
// Non-admins are always confined to their own partition.
func (s *Service) resolvePartitions(ctx context.Context, actor model.Tenant, scope Scope) ([]string, error) {
	if !actor.Admin {
		if scope.All || (scope.UserID != 0 && scope.UserID != actor.ID) {
			return nil, kberrors.Forbidden("tenant %d cannot search beyond its own partition", actor.ID)
		}
		return []string{model.Partition(actor.ID)}, nil
	}

	switch {
	case scope.All:
		docs, err := s.store.ListByStatus(ctx, model.StatusIndexed)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		var partitions []string
		for _, d := range docs {
			p := model.Partition(d.OwnerID)
			if !seen[p] {
				seen[p] = true
				partitions = append(partitions, p)
			}
		}
		return partitions, nil
	case scope.UserID != 0:
		return []string{model.Partition(scope.UserID)}, nil
	default:
		return []string{model.Partition(actor.ID)}, nil
	}
}

// sortMatches orders by score descending, then (document_id, chunk_index)
// ascending so equal scores produce a stable order.
func sortMatches(matches []vector.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].DocumentID != matches[j].DocumentID {
			return matches[i].DocumentID < matches[j].DocumentID
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})
}

// loadSources fetches chunk contents for matches. Chunks removed since
// indexing are skipped, not fatal.
func (s *Service) loadSources(ctx context.Context, matches []vector.Match) []Source {
	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		c, err := s.store.GetChunk(ctx, m.DocumentID, m.ChunkIndex)
		if err != nil {
			s.log.Debug("stale_vector_skipped",
				slog.Int64("document_id", m.DocumentID), slog.Int("chunk_index", m.ChunkIndex))
			continue
		}
		sources = append(sources, Source{
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
			Content:    c.Content,
			Score:      m.Score,
		})
	}
	return sources
}

func (s *Service) rerank(ctx context.Context, settings model.TenantSettings, query string, sources []Source) ([]Source, error) {
	reranker, err := s.registry.Reranker(settings)
	if err != nil || reranker == nil {
		return sources, err
	}

	docs := make([]string, len(sources))
	for i, src := range sources {
		docs[i] = src.Content
	}
	scores, err := reranker.Rerank(ctx, query, docs)
	if err != nil {
		return sources, err
	}

	// Order on the raw scores. Cross-encoders return logits, often
	// negative; clamping before the sort would erase their ranking.
	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		if sources[i].DocumentID != sources[j].DocumentID {
			return sources[i].DocumentID < sources[j].DocumentID
		}
		return sources[i].ChunkIndex < sources[j].ChunkIndex
	})

	reordered := make([]Source, len(sources))
	for out, i := range order {
		src := sources[i]
		sc := float32(scores[i])
		if sc < 0 {
			sc = 0
		}
		if sc > 1 {
			sc = 1
		}
		src.Score = sc
		reordered[out] = src
	}
	return reordered, nil
}

const systemPreamble = `You answer questions using only the provided context passages. ` +
	`Cite the passages you used by their [document:chunk] tag. ` +
	`If the context does not contain the answer, say so plainly.`

// answer calls the LLM. An unreachable or saturated backend degrades to a
// fallback note so callers can still show the evidence.
func (s *Service) answer(ctx context.Context, settings model.TenantSettings, question string, temperature float64, sources []Source) (string, bool, error) {
	chat, err := s.registry.Chat(settings)
	if err != nil {
		return "", false, err
	}

	var sb strings.Builder
	sb.WriteString("Context passages:\n\n")
	for _, src := range sources {
		fmt.Fprintf(&sb, "[%d:%d]\n%s\n\n", src.DocumentID, src.ChunkIndex, src.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)

	answer, err := chat.Complete(ctx, provider.ChatRequest{
		System:      systemPreamble,
		Prompt:      sb.String(),
		Temperature: temperature,
	})
	if err != nil {
		code := kberrors.GetCode(err)
		if code == kberrors.CodeProviderUnavailable || code == kberrors.CodeProviderBusy {
			s.log.Warn("llm_unavailable", slog.String("error", err.Error()))
			return "The language model is currently unavailable. The most relevant passages are attached as sources.", true, nil
		}
		return "", false, err
	}
	return answer, false, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

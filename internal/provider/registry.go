package provider

import (
	"context"
	"sync"

	"github.com/docuforge/kbase/internal/config"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// Registry resolves tenant settings to concrete provider clients.
// Instances are built lazily and reused; the embedder is always checked
// against the index dimension before it is handed out.
type Registry struct {
	cfg config.ProviderConfig
	// dimension is the vector index dimension every embedder must match.
	dimension int

	mu        sync.Mutex
	embedders map[string]Embedder
	chats     map[string]ChatLLM
	rerankers map[string]Reranker
}

// NewRegistry builds a registry bound to the index dimension.
func NewRegistry(cfg config.ProviderConfig, dimension int) *Registry {
	return &Registry{
		cfg:       cfg,
		dimension: dimension,
		embedders: make(map[string]Embedder),
		chats:     make(map[string]ChatLLM),
		rerankers: make(map[string]Reranker),
	}
}

// Embedder returns the embedder for a tenant. Settings override the
// configured default provider and model.
func (r *Registry) Embedder(s model.TenantSettings) (Embedder, error) {
	providerName := r.cfg.EmbeddingProvider
	modelName := r.cfg.EmbeddingModel
	if s.EmbeddingProvider != "" {
		providerName = s.EmbeddingProvider
	}
	if s.EmbeddingModel != "" {
		modelName = s.EmbeddingModel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerName + "/" + modelName
	if e, ok := r.embedders[key]; ok {
		return e, nil
	}

	e, err := r.buildEmbedder(providerName, modelName)
	if err != nil {
		return nil, err
	}
	if e.Dimensions() != r.dimension {
		e.Close()
		return nil, kberrors.Newf(kberrors.CodeDimensionMismatch,
			"embedder %s produces %d dimensions, index wants %d",
			key, e.Dimensions(), r.dimension)
	}
	r.embedders[key] = e
	return e, nil
}

func (r *Registry) buildEmbedder(providerName, modelName string) (Embedder, error) {
	var base Embedder
	switch providerName {
	case "hash":
		base = NewHashEmbedder(r.dimension)
	case "ollama":
		base = NewOllamaEmbedder(OllamaConfig{
			Host:       r.cfg.OllamaHost,
			Model:      modelName,
			BatchSize:  r.cfg.EmbeddingBatchSize,
			Dimensions: r.dimension,
		})
	case "openai", "vllm":
		base = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    r.cfg.VLLMBaseURL,
			APIKey:     r.cfg.VLLMAPIKey,
			Model:      modelName,
			BatchSize:  r.cfg.EmbeddingBatchSize,
			Dimensions: r.dimension,
		})
	case "xinference":
		base = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    r.cfg.XinferenceBaseURL,
			APIKey:     r.cfg.XinferenceAPIKey,
			Model:      modelName,
			BatchSize:  r.cfg.EmbeddingBatchSize,
			Dimensions: r.dimension,
		})
	default:
		return nil, kberrors.Newf(kberrors.CodeConfigInvalid,
			"unknown embedding provider %q", providerName)
	}

	if r.cfg.EmbedRateLimit > 0 {
		base = NewRateLimitedEmbedder(base, r.cfg.EmbedRateLimit, r.cfg.EmbedRateBurst)
	}
	if r.cfg.EmbedCacheSize > 0 {
		cached, err := NewCachedEmbedder(base, r.cfg.EmbedCacheSize)
		if err != nil {
			return nil, err
		}
		base = cached
	}
	return base, nil
}

// Chat returns the completion client for a tenant.
func (r *Registry) Chat(s model.TenantSettings) (ChatLLM, error) {
	providerName := r.cfg.LLMProvider
	modelName := r.cfg.LLMModel
	if s.LLMProvider != "" {
		providerName = s.LLMProvider
	}
	if s.LLMModel != "" {
		modelName = s.LLMModel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerName + "/" + modelName
	if c, ok := r.chats[key]; ok {
		return c, nil
	}

	var c ChatLLM
	switch providerName {
	case "ollama":
		c = NewOllamaChat(r.cfg.OllamaHost, modelName)
	case "openai", "vllm":
		c = NewOpenAIChat(OpenAIConfig{
			BaseURL: r.cfg.VLLMBaseURL,
			APIKey:  r.cfg.VLLMAPIKey,
			Model:   modelName,
		})
	case "xinference":
		c = NewOpenAIChat(OpenAIConfig{
			BaseURL: r.cfg.XinferenceBaseURL,
			APIKey:  r.cfg.XinferenceAPIKey,
			Model:   modelName,
		})
	default:
		return nil, kberrors.Newf(kberrors.CodeConfigInvalid,
			"unknown llm provider %q", providerName)
	}
	r.chats[key] = c
	return c, nil
}

// Reranker returns the rerank client for a tenant, or nil when reranking
// is disabled in its settings.
func (r *Registry) Reranker(s model.TenantSettings) (Reranker, error) {
	if !s.EnableRerank || s.RerankProvider == "" || s.RerankProvider == "none" {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.RerankProvider + "/" + s.RerankModel
	if rr, ok := r.rerankers[key]; ok {
		return rr, nil
	}

	var rr Reranker
	switch s.RerankProvider {
	case "xinference", "siliconflow":
		rr = NewHTTPReranker(OpenAIConfig{
			BaseURL: r.cfg.XinferenceBaseURL,
			APIKey:  r.cfg.XinferenceAPIKey,
			Model:   s.RerankModel,
		})
	default:
		return nil, kberrors.Newf(kberrors.CodeConfigInvalid,
			"unknown rerank provider %q", s.RerankProvider)
	}
	r.rerankers[key] = rr
	return rr, nil
}

// PDFConverter returns the configured layout engine, or nil when no
// engine URL is set.
func (r *Registry) PDFConverter() PDFConverter {
	if r.cfg.PDFEngineURL == "" {
		return nil
	}
	return NewLayoutEngine(r.cfg.PDFEngineURL)
}

// OCR returns the configured OCR client, or nil when no endpoint is set.
func (r *Registry) OCR() OCR {
	if r.cfg.OCRBaseURL == "" {
		return nil
	}
	return NewOCRClient(r.cfg.OCRBaseURL)
}

// Close releases every cached client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.embedders {
		e.Close()
	}
	r.embedders = make(map[string]Embedder)
}

// Probe verifies the default embedder and chat backend are reachable.
func (r *Registry) Probe(ctx context.Context) error {
	defaults := model.TenantSettings{}
	e, err := r.Embedder(defaults)
	if err != nil {
		return err
	}
	if err := e.Probe(ctx); err != nil {
		return err
	}
	c, err := r.Chat(defaults)
	if err != nil {
		return err
	}
	return c.Probe(ctx)
}

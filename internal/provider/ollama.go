package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
)

// OllamaConfig configures the Ollama clients.
type OllamaConfig struct {
	Host      string
	Model     string
	BatchSize int
	// Dimensions of the embedding model. Must match the index.
	Dimensions int
}

// OllamaEmbedder generates embeddings through Ollama's /api/embed.
type OllamaEmbedder struct {
	client *http.Client
	cfg    OllamaConfig
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaEmbedder builds an embedder; reachability is checked by Probe.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &OllamaEmbedder{client: newHTTPClient(), cfg: cfg}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.cfg.Dimensions), nil
	}
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, kberrors.Newf(kberrors.CodeProviderBadResponse, "ollama returned no embedding")
	}
	return vectors[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	// Blank inputs get zero vectors without a round trip.
	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			results[i] = make([]float32, e.cfg.Dimensions)
		} else {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		vectors, err := e.embed(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, kberrors.Newf(kberrors.CodeProviderBadResponse,
				"ollama returned %d embeddings for %d inputs", len(vectors), len(batch))
		}
		for i, v := range vectors {
			results[batch[i]] = v
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedOnce(ctx, texts)
	if err == nil || !isInputTooLong(err) || len(texts) != 1 {
		return vectors, err
	}

	// Some embedding models reject inputs past their context window
	// instead of truncating. Halve the text and try once more.
	runes := []rune(texts[0])
	return e.embedOnce(ctx, []string{string(runes[:len(runes)/2])})
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Input: input})
	if err != nil {
		return nil, kberrors.Internal("encoding embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, kberrors.Internal("building embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeProviderUnavailable, "calling ollama embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("ollama embed", resp.StatusCode, drainBody(resp.Body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, kberrors.New(kberrors.CodeProviderBadResponse, "decoding embed response", err)
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vectors[i] = normalizeVector(v)
	}
	return vectors, nil
}

func isInputTooLong(err error) bool {
	var ke *kberrors.Error
	if !errors.As(err, &ke) {
		return false
	}
	msg := strings.ToLower(ke.Message)
	return strings.Contains(msg, "context length") || strings.Contains(msg, "input length") ||
		strings.Contains(msg, "too long")
}

func (e *OllamaEmbedder) Dimensions() int   { return e.cfg.Dimensions }
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Probe checks that Ollama is up and the model is pulled.
func (e *OllamaEmbedder) Probe(ctx context.Context) error {
	return ollamaProbe(ctx, e.client, e.cfg.Host, e.cfg.Model)
}

func (e *OllamaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// OllamaChat produces completions through Ollama's /api/chat.
type OllamaChat struct {
	client *http.Client
	host   string
	model  string
}

var _ ChatLLM = (*OllamaChat)(nil)

// NewOllamaChat builds a chat client for one model.
func NewOllamaChat(host, model string) *OllamaChat {
	return &OllamaChat{client: newHTTPClient(), host: host, model: model}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

func (c *OllamaChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var messages []ollamaChatMessage
	if req.System != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{"temperature": req.Temperature},
	})
	if err != nil {
		return "", kberrors.Internal("encoding chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", kberrors.Internal("building chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", kberrors.New(kberrors.CodeProviderUnavailable, "calling ollama chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("ollama chat", resp.StatusCode, drainBody(resp.Body))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", kberrors.New(kberrors.CodeProviderBadResponse, "decoding chat response", err)
	}
	return result.Message.Content, nil
}

func (c *OllamaChat) Probe(ctx context.Context) error {
	return ollamaProbe(ctx, c.client, c.host, c.model)
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func ollamaProbe(ctx context.Context, client *http.Client, host, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/api/tags", nil)
	if err != nil {
		return kberrors.Internal("building tags request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return kberrors.New(kberrors.CodeProviderUnavailable, "calling ollama", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("ollama tags", resp.StatusCode, drainBody(resp.Body))
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return kberrors.New(kberrors.CodeProviderBadResponse, "decoding tags response", err)
	}

	want := strings.ToLower(model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range result.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return nil
		}
	}
	return kberrors.Newf(kberrors.CodeProviderUnavailable, "model %s not available on %s", model, host)
}

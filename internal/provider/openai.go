package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
)

// OpenAIConfig configures an OpenAI-compatible backend (vLLM, Xinference,
// or any server speaking the /v1 API).
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	BatchSize  int
	Dimensions int
}

// OpenAIEmbedder calls POST {base}/v1/embeddings.
type OpenAIEmbedder struct {
	client *http.Client
	cfg    OpenAIConfig
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder builds an embedder against an OpenAI-compatible server.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIEmbedder{client: newHTTPClient(), cfg: cfg}
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

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
		for i, v := range vectors {
			results[batch[i]] = v
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openaiEmbedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, kberrors.Internal("encoding embeddings request", err)
	}

	resp, err := e.post(ctx, "/v1/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("embeddings", resp.StatusCode, drainBody(resp.Body))
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, kberrors.New(kberrors.CodeProviderBadResponse, "decoding embeddings response", err)
	}
	if len(result.Data) != len(texts) {
		return nil, kberrors.Newf(kberrors.CodeProviderBadResponse,
			"embeddings returned %d vectors for %d inputs", len(result.Data), len(texts))
	}

	// Responses may arrive out of order; the index field is authoritative.
	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, kberrors.Newf(kberrors.CodeProviderBadResponse,
				"embeddings index %d out of range", d.Index)
		}
		vectors[d.Index] = normalizeVector(d.Embedding)
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, kberrors.Internal("building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeProviderUnavailable, "calling "+path, err)
	}
	return resp, nil
}

func (e *OpenAIEmbedder) Dimensions() int   { return e.cfg.Dimensions }
func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

func (e *OpenAIEmbedder) Probe(ctx context.Context) error {
	_, err := e.embed(ctx, []string{"probe"})
	return err
}

func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// OpenAIChat calls POST {base}/v1/chat/completions.
type OpenAIChat struct {
	client *http.Client
	cfg    OpenAIConfig
}

var _ ChatLLM = (*OpenAIChat)(nil)

// NewOpenAIChat builds a chat client against an OpenAI-compatible server.
func NewOpenAIChat(cfg OpenAIConfig) *OpenAIChat {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAIChat{client: newHTTPClient(), cfg: cfg}
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	var messages []openaiChatMessage
	if req.System != "" {
		messages = append(messages, openaiChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiChatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(openaiChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", kberrors.Internal("encoding chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", kberrors.Internal("building chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", kberrors.New(kberrors.CodeProviderUnavailable, "calling chat completions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("chat completions", resp.StatusCode, drainBody(resp.Body))
	}

	var result openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", kberrors.New(kberrors.CodeProviderBadResponse, "decoding chat response", err)
	}
	if len(result.Choices) == 0 {
		return "", kberrors.Newf(kberrors.CodeProviderBadResponse, "chat returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *OpenAIChat) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return kberrors.Internal("building models request", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return kberrors.New(kberrors.CodeProviderUnavailable, "calling models", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("models", resp.StatusCode, drainBody(resp.Body))
	}
	return nil
}

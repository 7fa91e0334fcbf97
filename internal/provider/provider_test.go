package provider

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/kbase/internal/config"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(64)

	a, err := e.Embed(ctx, "knowledge base service")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "knowledge base service")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := e.Embed(ctx, "something else entirely")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// Unit length.
	var sum float64
	for _, x := range a {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestHashEmbedderEmptyInput(t *testing.T) {
	e := NewHashEmbedder(16)
	v, err := e.Embed(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}

func TestOllamaEmbedderBatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		n := 1
		if arr, ok := req.Input.([]any); ok {
			n = len(arr)
		}
		out := ollamaEmbedResponse{Embeddings: make([][]float64, n)}
		for i := range out.Embeddings {
			out.Embeddings[i] = []float64{1, 0, 0}
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "bge-m3", BatchSize: 2, Dimensions: 3})
	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	assert.Equal(t, make([]float32, 3), vectors[1])
	assert.InDelta(t, 1.0, float64(vectors[0][0]), 1e-4)
	// Three non-empty texts at batch size 2 means two calls.
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaEmbedderTruncationRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		json.NewDecoder(r.Body).Decode(&req)
		text, _ := req.Input.(string)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"input length exceeds maximum context length"}`))
			return
		}
		assert.Less(t, len(text), 100)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{0, 1}}})
	}))
	defer srv.Close()

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'x'
	}
	e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "bge-m3", Dimensions: 2})
	v, err := e.Embed(context.Background(), string(long))
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIEmbedderOutOfOrderIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "secret", Model: "m", Dimensions: 2})
	vectors, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(vectors[0][0]), 1e-4)
	assert.InDelta(t, 1.0, float64(vectors[1][1]), 1e-4)
}

func TestOpenAIChatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.InDelta(t, 0.3, req.Temperature, 1e-9)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"answer text"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIChat(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	out, err := c.Complete(context.Background(), ChatRequest{
		System: "you are helpful", Prompt: "question", Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer text", out)
}

func TestRerankResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []float64
	}{
		{
			"results with relevance_score",
			`{"results":[{"index":0,"relevance_score":0.9},{"index":1,"relevance_score":0.2}]}`,
			[]float64{0.9, 0.2},
		},
		{
			"results with score key",
			`{"results":[{"index":1,"score":0.8},{"index":0,"score":0.1}]}`,
			[]float64{0.1, 0.8},
		},
		{
			"bare scores array",
			`{"scores":[0.5,0.6]}`,
			[]float64{0.5, 0.6},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/rerank", r.URL.Path)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rr := NewHTTPReranker(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
			scores, err := rr.Rerank(context.Background(), "q", []string{"d1", "d2"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, scores)
		})
	}
}

func TestRerankMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rr := NewHTTPReranker(OpenAIConfig{BaseURL: srv.URL, Model: "m"})
	_, err := rr.Rerank(context.Background(), "q", []string{"d1", "d2"})
	require.Error(t, err)
	assert.Equal(t, kberrors.CodeProviderBadResponse, kberrors.GetCode(err))
}

func TestStatusErrorMapping(t *testing.T) {
	busy := statusError("op", http.StatusTooManyRequests, "slow down")
	assert.Equal(t, kberrors.CodeProviderBusy, kberrors.GetCode(busy))
	assert.False(t, kberrors.IsRetryable(busy))

	down := statusError("op", http.StatusBadGateway, "")
	assert.Equal(t, kberrors.CodeProviderUnavailable, kberrors.GetCode(down))
	assert.True(t, kberrors.IsRetryable(down))

	bad := statusError("op", http.StatusBadRequest, "")
	assert.Equal(t, kberrors.CodeProviderBadResponse, kberrors.GetCode(bad))
}

func TestCachedEmbedderHitsCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{1, 0}}})
	}))
	defer srv.Close()

	inner := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "m", Dimensions: 2})
	cached, err := NewCachedEmbedder(inner, 8)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "same text")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCachedEmbedderBatchPartialHit(t *testing.T) {
	ctx := context.Background()
	cached, err := NewCachedEmbedder(NewHashEmbedder(8), 8)
	require.NoError(t, err)

	_, err = cached.Embed(ctx, "warm")
	require.NoError(t, err)

	vectors, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	for _, v := range vectors {
		assert.Len(t, v, 8)
	}
}

func TestRateLimitedEmbedderBusy(t *testing.T) {
	ctx := context.Background()
	limited := NewRateLimitedEmbedder(NewHashEmbedder(4), 0.001, 1)

	_, err := limited.Embed(ctx, "first")
	require.NoError(t, err)

	_, err = limited.Embed(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, kberrors.CodeProviderBusy, kberrors.GetCode(err))
}

func TestRegistryHashEmbedder(t *testing.T) {
	r := NewRegistry(config.ProviderConfig{EmbeddingProvider: "hash"}, 32)

	e, err := r.Embedder(model.TenantSettings{})
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimensions())

	// Same key reuses the instance.
	e2, err := r.Embedder(model.TenantSettings{})
	require.NoError(t, err)
	assert.Same(t, e, e2)
}

func TestRegistryUnknownProviders(t *testing.T) {
	r := NewRegistry(config.ProviderConfig{EmbeddingProvider: "nope", LLMProvider: "nope"}, 8)

	_, err := r.Embedder(model.TenantSettings{})
	assert.Equal(t, kberrors.CodeConfigInvalid, kberrors.GetCode(err))

	_, err = r.Chat(model.TenantSettings{})
	assert.Equal(t, kberrors.CodeConfigInvalid, kberrors.GetCode(err))
}

func TestRegistryRerankerDisabled(t *testing.T) {
	r := NewRegistry(config.ProviderConfig{}, 8)

	rr, err := r.Reranker(model.TenantSettings{EnableRerank: false})
	require.NoError(t, err)
	assert.Nil(t, rr)

	rr, err = r.Reranker(model.TenantSettings{EnableRerank: true, RerankProvider: "none"})
	require.NoError(t, err)
	assert.Nil(t, rr)
}

func TestRegistryConvertersOptional(t *testing.T) {
	r := NewRegistry(config.ProviderConfig{}, 8)
	assert.Nil(t, r.PDFConverter())
	assert.Nil(t, r.OCR())

	r2 := NewRegistry(config.ProviderConfig{
		PDFEngineURL: "http://engine:8000",
		OCRBaseURL:   "http://ocr:9000",
	}, 8)
	assert.NotNil(t, r2.PDFConverter())
	assert.NotNil(t, r2.OCR())
}

func TestNormalizeVector(t *testing.T) {
	v := normalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := normalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
}

// Package provider holds the model-backend clients: embeddings, chat
// completion, reranking, and the PDF conversion engines. Every client
// exposes a Probe so startup and the doctor command can verify reachability
// before jobs depend on it.
package provider

import (
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/docuforge/kbase/internal/kberrors"
)

// Embedder turns text into fixed-size vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions is the vector size this embedder produces.
	Dimensions() int
	ModelName() string
	// Probe verifies the backend is reachable and serving the model.
	Probe(ctx context.Context) error
	Close() error
}

// ChatRequest is one grounded completion request.
type ChatRequest struct {
	System      string
	Prompt      string
	Temperature float64
}

// ChatLLM produces answer completions.
type ChatLLM interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
	Probe(ctx context.Context) error
}

// Reranker scores documents against a query. Scores align with the
// documents slice by position.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
	Probe(ctx context.Context) error
}

// PDFConverter turns PDF bytes into Markdown.
type PDFConverter interface {
	Convert(ctx context.Context, filename string, data []byte) (string, error)
}

// OCR extracts text from scanned documents.
type OCR interface {
	ExtractText(ctx context.Context, filename string, data []byte) (string, error)
}

// newHTTPClient builds a pooled client. No client-level timeout: callers
// bound requests with context so deadlines stay per-call.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        8,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// drainBody reads a capped error body for diagnostics.
func drainBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 2048))
	return string(body)
}

// statusError maps an HTTP status to a provider error code.
func statusError(op string, status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return kberrors.Newf(kberrors.CodeProviderBusy, "%s: status %d: %s", op, status, body)
	case status >= 500:
		return kberrors.Newf(kberrors.CodeProviderUnavailable, "%s: status %d: %s", op, status, body)
	default:
		return kberrors.Newf(kberrors.CodeProviderBadResponse, "%s: status %d: %s", op, status, body)
	}
}

// normalizeVector scales v to unit length in place and returns it.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

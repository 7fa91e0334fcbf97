package provider

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
)

// HashEmbedder generates deterministic embeddings from token and trigram
// hashes. No network, no model download; suitable for tests and air-gapped
// deployments at reduced semantic quality.
type HashEmbedder struct {
	dims int
}

var _ Embedder = (*HashEmbedder)(nil)

const (
	hashTokenWeight = 0.7
	hashNgramWeight = 0.3
	hashNgramSize   = 3
)

var hashTokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// NewHashEmbedder creates a hash embedder producing dims-sized vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	vector := make([]float32, e.dims)
	for _, token := range hashTokenRegex.FindAllString(strings.ToLower(trimmed), -1) {
		vector[hashToIndex(token, e.dims)] += hashTokenWeight
	}
	for _, ngram := range trigrams(strings.ToLower(trimmed)) {
		vector[hashToIndex(ngram, e.dims)] += hashNgramWeight
	}
	return normalizeVector(vector), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int   { return e.dims }
func (e *HashEmbedder) ModelName() string { return "hash" }

func (e *HashEmbedder) Probe(_ context.Context) error { return nil }
func (e *HashEmbedder) Close() error                  { return nil }

func hashToIndex(s string, dims int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(dims))
}

func trigrams(s string) []string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) < hashNgramSize {
		return nil
	}
	out := make([]string, 0, len(runes)-hashNgramSize+1)
	for i := 0; i+hashNgramSize <= len(runes); i++ {
		out = append(out, string(runes[i:i+hashNgramSize]))
	}
	return out
}

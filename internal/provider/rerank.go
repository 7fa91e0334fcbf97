package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/docuforge/kbase/internal/kberrors"
)

// HTTPReranker calls POST {base}/v1/rerank (Xinference, SiliconFlow, and
// compatible servers).
type HTTPReranker struct {
	client *http.Client
	cfg    OpenAIConfig
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker builds a rerank client.
func NewHTTPReranker(cfg OpenAIConfig) *HTTPReranker {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPReranker{client: newHTTPClient(), cfg: cfg}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

// rerankResponse tolerates the two shapes seen in the wild: a results
// array with per-document index and score (key varies by server), or a
// bare scores array aligned with the input.
type rerankResponse struct {
	Results []struct {
		Index          int      `json:"index"`
		Score          *float64 `json:"score"`
		RelevanceScore *float64 `json:"relevance_score"`
	} `json:"results"`
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.cfg.Model, Query: query, Documents: documents})
	if err != nil {
		return nil, kberrors.Internal("encoding rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.cfg.BaseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, kberrors.Internal("building rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeProviderUnavailable, "calling rerank", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("rerank", resp.StatusCode, drainBody(resp.Body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, kberrors.New(kberrors.CodeProviderBadResponse, "decoding rerank response", err)
	}

	scores := make([]float64, len(documents))
	switch {
	case len(result.Results) > 0:
		for _, item := range result.Results {
			if item.Index < 0 || item.Index >= len(scores) {
				return nil, kberrors.Newf(kberrors.CodeProviderBadResponse,
					"rerank index %d out of range", item.Index)
			}
			switch {
			case item.RelevanceScore != nil:
				scores[item.Index] = *item.RelevanceScore
			case item.Score != nil:
				scores[item.Index] = *item.Score
			}
		}
	case len(result.Scores) == len(documents):
		copy(scores, result.Scores)
	default:
		return nil, kberrors.Newf(kberrors.CodeProviderBadResponse,
			"rerank response has neither results nor aligned scores")
	}
	return scores, nil
}

func (r *HTTPReranker) Probe(ctx context.Context) error {
	_, err := r.Rerank(ctx, "probe", []string{"probe"})
	return err
}

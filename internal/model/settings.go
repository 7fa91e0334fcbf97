package model

import "time"

// TenantSettings holds per-tenant retrieval defaults. Absent rows fall back
// to DefaultTenantSettings.
type TenantSettings struct {
	TenantID int64

	LLMProvider string
	LLMModel    string

	EmbeddingProvider string
	EmbeddingModel    string

	TopK        int
	Temperature float64

	EnableRerank   bool
	RerankProvider string
	RerankModel    string

	UpdatedAt time.Time
}

// DefaultTenantSettings returns the defaults used when a tenant has no
// settings row.
func DefaultTenantSettings(tenantID int64) TenantSettings {
	return TenantSettings{
		TenantID:       tenantID,
		LLMProvider:    "ollama",
		LLMModel:       "qwen2.5:32b",
		TopK:           5,
		Temperature:    0.7,
		EnableRerank:   false,
		RerankProvider: "none",
	}
}

// Package service implements the document lifecycle: upload, conversion
// hand-off, confirm, review, chunk curation, and deletion. Every operation
// takes the acting tenant and enforces ownership before touching state.
package service

import (
	"context"
	"log/slog"

	"github.com/docuforge/kbase/internal/blob"
	"github.com/docuforge/kbase/internal/config"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/provider"
	"github.com/docuforge/kbase/internal/queue"
	"github.com/docuforge/kbase/internal/split"
	"github.com/docuforge/kbase/internal/store"
	"github.com/docuforge/kbase/internal/vector"
)

// Indexer embeds and upserts a document's included chunks. Implemented by
// the retrieval service; injected here to keep the dependency one-way.
type Indexer interface {
	IndexDocument(ctx context.Context, documentID int64) error
}

// Service is the document lifecycle orchestrator.
type Service struct {
	store    store.Store
	blobs    blob.Store
	index    vector.Index
	queue    queue.Queue
	registry *provider.Registry
	indexer  Indexer
	splitter split.Splitter
	cfg      *config.Config
	log      *slog.Logger
}

// New wires a Service. The splitter is built from the configured strategy.
func New(
	st store.Store,
	blobs blob.Store,
	index vector.Index,
	q queue.Queue,
	registry *provider.Registry,
	indexer Indexer,
	cfg *config.Config,
	log *slog.Logger,
) (*Service, error) {
	splitter, err := split.New(split.Config{
		Strategy:       cfg.Split.Strategy,
		ChunkSize:      cfg.Split.ChunkSize,
		OverlapPercent: cfg.Split.OverlapPercent,
		Delimiters:     cfg.Split.Delimiters,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    st,
		blobs:    blobs,
		index:    index,
		queue:    q,
		registry: registry,
		indexer:  indexer,
		splitter: splitter,
		cfg:      cfg,
		log:      log,
	}, nil
}

// loadOwned fetches a document and checks the actor may operate on it.
func (s *Service) loadOwned(ctx context.Context, actor model.Tenant, id int64) (*model.Document, error) {
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(d) {
		return nil, kberrors.Forbidden("tenant %d cannot access document %d", actor.ID, id)
	}
	return d, nil
}

// requireAdmin gates reviewer operations.
func requireAdmin(actor model.Tenant) error {
	if !actor.Admin {
		return kberrors.Forbidden("tenant %d is not a reviewer", actor.ID)
	}
	return nil
}

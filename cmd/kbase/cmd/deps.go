package cmd

import (
	"context"
	"log/slog"

	"github.com/docuforge/kbase/internal/blob"
	"github.com/docuforge/kbase/internal/config"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/provider"
	"github.com/docuforge/kbase/internal/queue"
	"github.com/docuforge/kbase/internal/store"
	"github.com/docuforge/kbase/internal/vector"
)

// deps bundles the backing services a subcommand needs. Build only what a
// command uses; Close tolerates partially built sets.
type deps struct {
	cfg *config.Config
	log *slog.Logger

	db       *store.Postgres
	blobs    blob.Store
	index    vector.Index
	queue    queue.Queue
	registry *provider.Registry
}

func newDeps(cfg *config.Config) *deps {
	return &deps{cfg: cfg, log: slog.Default()}
}

func (d *deps) openDB(ctx context.Context) error {
	db, err := store.Connect(ctx, d.cfg.DB.URL, d.cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	d.db = db
	return nil
}

func (d *deps) openBlobs(ctx context.Context) error {
	blobs, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:  d.cfg.Blob.Endpoint,
		AccessKey: d.cfg.Blob.AccessKey,
		SecretKey: d.cfg.Blob.SecretKey,
		Bucket:    d.cfg.Blob.Bucket,
		UseSSL:    d.cfg.Blob.UseSSL,
	})
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return err
	}
	d.blobs = blobs
	return nil
}

// openIndex selects the configured backend. The pgvector backend shares the
// metadata pool, so openDB must run first.
func (d *deps) openIndex(ctx context.Context) error {
	switch d.cfg.Vector.Backend {
	case "pgvector":
		if d.db == nil {
			return kberrors.Newf(kberrors.CodeConfigInvalid, "pgvector backend needs the database connection")
		}
		d.index = vector.NewPgIndex(d.db.Pool(), d.cfg.Vector.Collection, d.cfg.Vector.Dimension)
	case "hnsw":
		d.index = vector.NewHNSWIndex(d.cfg.Vector.Path, d.cfg.Vector.Dimension)
	default:
		return kberrors.Newf(kberrors.CodeConfigInvalid, "unknown vector backend %q", d.cfg.Vector.Backend)
	}
	return d.index.EnsureReady(ctx)
}

func (d *deps) openQueue(ctx context.Context) error {
	q, err := queue.NewRedis(ctx, d.cfg.Queue.RedisURL, d.cfg.Queue.Key)
	if err != nil {
		return err
	}
	d.queue = q
	return nil
}

func (d *deps) openRegistry() {
	d.registry = provider.NewRegistry(d.cfg.Provider, d.cfg.Vector.Dimension)
}

func (d *deps) Close() {
	if d.registry != nil {
		d.registry.Close()
	}
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.log.Warn("queue_close_failed", slog.String("error", err.Error()))
		}
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.log.Warn("index_close_failed", slog.String("error", err.Error()))
		}
	}
	if d.db != nil {
		d.db.Close()
	}
}

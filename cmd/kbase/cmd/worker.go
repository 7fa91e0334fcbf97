package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docuforge/kbase/internal/retrieval"
	"github.com/docuforge/kbase/internal/service"
	"github.com/docuforge/kbase/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the document conversion worker",
		Long: `Run the conversion worker pool.

The worker consumes jobs from the Redis queue, converts uploaded files to
Markdown (PDF via the layout engine with plain-text and OCR fallbacks),
splits the result into chunks, and marks the conversion ready. Transient
failures requeue up to worker.max_retries times; terminal failures are
recorded on the document.

Run as many worker processes as needed; the queue delivers each job to one
worker at a time and recovers orphans from crashed workers on startup.`,
		Example: `  # Run with the default config
  kbase worker

  # Run with an explicit config file
  kbase worker --config /etc/kbase/kbase.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := newDeps(loadedConfig)
	defer d.Close()

	if err := d.openDB(ctx); err != nil {
		return err
	}
	if err := d.openBlobs(ctx); err != nil {
		return err
	}
	if err := d.openIndex(ctx); err != nil {
		return err
	}
	if err := d.openQueue(ctx); err != nil {
		return err
	}
	d.openRegistry()

	indexer := retrieval.New(d.db, d.index, d.registry, d.log)
	svc, err := service.New(d.db, d.blobs, d.index, d.queue, d.registry, indexer, d.cfg, d.log)
	if err != nil {
		return err
	}

	pool := worker.New(d.db, d.blobs, d.queue, svc, d.registry, d.cfg, d.log)
	d.log.Info("worker_started",
		slog.Int("concurrency", d.cfg.Worker.Concurrency),
		slog.String("queue", d.cfg.Queue.Key))

	err = pool.Run(ctx)
	d.log.Info("worker_stopped")
	return err
}

// Package worker runs the conversion pool. Jobs arrive from the queue
// with at-least-once delivery, so every step re-checks state and the
// chunk replacement is transactional.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docuforge/kbase/internal/blob"
	"github.com/docuforge/kbase/internal/config"
	"github.com/docuforge/kbase/internal/convert"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/provider"
	"github.com/docuforge/kbase/internal/queue"
	"github.com/docuforge/kbase/internal/service"
	"github.com/docuforge/kbase/internal/store"
)

const dequeueWait = 5 * time.Second

// Pool consumes conversion jobs with bounded concurrency.
type Pool struct {
	store store.Store
	blobs blob.Store
	queue queue.Queue
	svc   *service.Service

	pdf PDFPipeline

	cfg *config.Config
	log *slog.Logger
}

// New wires a conversion pool. The PDF engine and OCR client may be nil;
// the pipeline degrades to plain-text extraction.
func New(
	st store.Store,
	blobs blob.Store,
	q queue.Queue,
	svc *service.Service,
	registry *provider.Registry,
	cfg *config.Config,
	log *slog.Logger,
) *Pool {
	return &Pool{
		store: st,
		blobs: blobs,
		queue: q,
		svc:   svc,
		pdf: PDFPipeline{
			Engine:       registry.PDFConverter(),
			Extractor:    provider.PlainTextExtractor{},
			OCR:          registry.OCR(),
			MinTextChars: cfg.Convert.MinTextChars,
		},
		cfg: cfg,
		log: log,
	}
}

// Run recovers orphaned jobs and processes the queue until ctx ends.
func (p *Pool) Run(ctx context.Context) error {
	recovered, err := p.queue.RecoverOrphans(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		p.log.Info("orphaned_jobs_recovered", slog.Int("count", recovered))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Worker.Concurrency; i++ {
		g.Go(func() error {
			for {
				job, ok, err := p.queue.Dequeue(gctx, dequeueWait)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				if err != nil {
					p.log.Error("dequeue_failed", slog.String("error", err.Error()))
					continue
				}
				if !ok {
					if gctx.Err() != nil {
						return nil
					}
					continue
				}
				p.handle(gctx, job)
			}
		})
	}
	return g.Wait()
}

// handle runs one job under the hard deadline and settles it with the
// queue: ack on success or terminal failure, requeue on transient errors.
func (p *Pool) handle(ctx context.Context, job queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.Worker.JobTimeout)
	defer cancel()

	log := p.log.With(slog.Int64("document_id", job.DocumentID), slog.Int("attempt", job.Attempt))

	err := p.process(jobCtx, job.DocumentID)
	switch {
	case err == nil:
		p.ack(ctx, job)

	case kberrors.IsRetryable(err) && job.Attempt < p.cfg.Worker.MaxRetries:
		log.Warn("conversion_retry", slog.String("error", err.Error()))
		if rerr := p.queue.Requeue(ctx, job); rerr != nil {
			log.Error("requeue_failed", slog.String("error", rerr.Error()))
		}

	default:
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "conversion timed out"
		}
		log.Error("conversion_failed", slog.String("error", reason))
		p.markFailed(ctx, job.DocumentID, reason)
		p.ack(ctx, job)
	}
}

func (p *Pool) ack(ctx context.Context, job queue.Job) {
	if err := p.queue.Ack(ctx, job); err != nil {
		p.log.Error("ack_failed", slog.Int64("document_id", job.DocumentID), slog.String("error", err.Error()))
	}
}

// process converts one document end to end.
func (p *Pool) process(ctx context.Context, documentID int64) error {
	d, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		if kberrors.GetCode(err) == kberrors.CodeNotFound {
			// Deleted while queued; nothing to do.
			return nil
		}
		return err
	}
	if !convertible(d) {
		p.log.Info("job_skipped",
			slog.Int64("document_id", documentID),
			slog.String("status", string(d.Status)),
			slog.String("conversion", string(d.Conversion)))
		return nil
	}

	d.Conversion = model.ConversionProcessing
	if err := p.store.UpdateDocument(ctx, d); err != nil {
		return err
	}

	// Brief object-store blips are retried in-place; anything that outlasts
	// the backoff goes back through the queue's attempt accounting.
	data, err := kberrors.RetryWithResult(ctx, kberrors.DefaultRetryConfig(), func() ([]byte, error) {
		return p.blobs.Get(ctx, d.ObjectKey)
	})
	if err != nil {
		return err
	}

	markdown, err := p.convert(ctx, d, data)
	if err != nil {
		return err
	}
	return p.svc.ApplyMarkdown(ctx, d, markdown)
}

// convertible mirrors the enqueue-side precondition so stale or duplicate
// deliveries become no-ops.
func convertible(d *model.Document) bool {
	switch d.Status {
	case model.StatusUploaded, model.StatusConfirmed, model.StatusApproved:
	default:
		return false
	}
	return d.Conversion == model.ConversionPending || d.Conversion == model.ConversionFailed
}

func (p *Pool) convert(ctx context.Context, d *model.Document, data []byte) (string, error) {
	switch convert.Classify(d.Filename, d.ContentType) {
	case convert.KindDirect:
		return convert.Direct(d.Filename, d.ContentType, data)
	case convert.KindDOCX:
		return convert.DOCX(data)
	case convert.KindPDF:
		return p.pdf.Convert(ctx, d.Filename, data)
	default:
		return "", kberrors.Validation("unsupported file type: %s", d.Filename)
	}
}

func (p *Pool) markFailed(ctx context.Context, documentID int64, reason string) {
	d, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return
	}
	d.Conversion = model.ConversionFailed
	d.ConversionError = reason
	if err := p.store.UpdateDocument(ctx, d); err != nil {
		p.log.Error("failure_state_update_failed",
			slog.Int64("document_id", documentID), slog.String("error", err.Error()))
	}
}

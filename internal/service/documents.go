package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/docuforge/kbase/internal/blob"
	"github.com/docuforge/kbase/internal/convert"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
	"github.com/docuforge/kbase/internal/queue"
	"github.com/docuforge/kbase/internal/store"
)

// Upload stores a file and starts its conversion. Text-like formats
// convert synchronously; PDF and DOCX go through the worker queue.
func (s *Service) Upload(ctx context.Context, actor model.Tenant, filename, contentType string, data []byte) (*model.Document, error) {
	if len(data) == 0 {
		return nil, kberrors.Validation("empty file")
	}
	if int64(len(data)) > s.cfg.Convert.MaxFileSize {
		return nil, kberrors.Validation("file exceeds size limit of %d bytes", s.cfg.Convert.MaxFileSize)
	}
	kind := convert.Classify(filename, contentType)
	if kind == convert.KindUnsupported {
		return nil, kberrors.Validation("unsupported file type: %s", filename)
	}

	sum := sha256.Sum256(data)
	objectKey := blob.DocumentKey(actor.ID, filename)
	if err := s.blobs.Put(ctx, objectKey, data, contentType); err != nil {
		return nil, err
	}

	d := &model.Document{
		Filename:    blob.SafeFilename(filename),
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Status:      model.StatusUploaded,
		OwnerID:     actor.ID,
		UploaderID:  actor.ID,
		Bucket:      s.cfg.Blob.Bucket,
		ObjectKey:   objectKey,
		Conversion:  model.ConversionPending,
	}
	if err := s.store.CreateDocument(ctx, d); err != nil {
		return nil, err
	}

	if kind == convert.KindDirect {
		s.convertDirect(ctx, d, filename, contentType, data)
		return d, nil
	}

	if err := s.queue.Enqueue(ctx, queue.Job{DocumentID: d.ID}); err != nil {
		// The row stays pending; retry_conversion re-enqueues it.
		s.log.Error("enqueue_failed", slog.Int64("document_id", d.ID), slog.String("error", err.Error()))
		return d, err
	}
	return d, nil
}

// convertDirect converts in-process. A converter failure marks the
// document's conversion failed but never fails the upload itself.
func (s *Service) convertDirect(ctx context.Context, d *model.Document, filename, contentType string, data []byte) {
	markdown, err := convert.Direct(filename, contentType, data)
	if err != nil {
		d.Conversion = model.ConversionFailed
		d.ConversionError = err.Error()
		if uerr := s.store.UpdateDocument(ctx, d); uerr != nil {
			s.log.Error("conversion_state_update_failed",
				slog.Int64("document_id", d.ID), slog.String("error", uerr.Error()))
		}
		return
	}
	if err := s.ApplyMarkdown(ctx, d, markdown); err != nil {
		d.Conversion = model.ConversionFailed
		d.ConversionError = err.Error()
		if uerr := s.store.UpdateDocument(ctx, d); uerr != nil {
			s.log.Error("conversion_state_update_failed",
				slog.Int64("document_id", d.ID), slog.String("error", uerr.Error()))
		}
	}
}

// ApplyMarkdown persists converted Markdown, replaces the chunk set, and
// marks the conversion ready. Shared by direct conversion, the worker,
// and Markdown replacement.
func (s *Service) ApplyMarkdown(ctx context.Context, d *model.Document, markdown string) error {
	markdown = convert.StripNUL(markdown)
	key := blob.MarkdownKey(d.OwnerID, d.ID)
	if err := s.blobs.Put(ctx, key, []byte(markdown), "text/markdown"); err != nil {
		return err
	}

	contents := s.splitter.Split(markdown)
	if _, err := s.store.ReplaceChunks(ctx, d.ID, contents); err != nil {
		return err
	}

	d.MarkdownKey = key
	d.Conversion = model.ConversionReady
	d.ConversionError = ""
	d.PreviewText = convert.Preview(markdown, s.cfg.Convert.PreviewChars)
	return s.store.UpdateDocument(ctx, d)
}

// Get returns one document the actor may see.
func (s *Service) Get(ctx context.Context, actor model.Tenant, id int64) (*model.Document, error) {
	return s.loadOwned(ctx, actor, id)
}

// List returns a documents page. Non-admins only ever see their own.
func (s *Service) List(ctx context.Context, actor model.Tenant, f store.DocumentFilter) ([]model.Document, int, error) {
	if !actor.Admin {
		f.OwnerID = actor.ID
	}
	return s.store.ListDocuments(ctx, f)
}

// PendingReview lists confirmed, conversion-ready documents for reviewers.
func (s *Service) PendingReview(ctx context.Context, actor model.Tenant) ([]store.PendingReview, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListPendingReview(ctx)
}

// DownloadMarkdown returns the converted Markdown.
func (s *Service) DownloadMarkdown(ctx context.Context, actor model.Tenant, id int64) ([]byte, error) {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if d.MarkdownKey == "" {
		return nil, kberrors.Precondition("document %d has no converted markdown", id)
	}
	return s.blobs.Get(ctx, d.MarkdownKey)
}

// ReplaceMarkdown overwrites the Markdown, re-splits, and confirms the
// document: edited content is treated as owner-approved for review.
func (s *Service) ReplaceMarkdown(ctx context.Context, actor model.Tenant, id int64, markdown []byte) (*model.Document, error) {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if d.Conversion != model.ConversionReady && d.Conversion != model.ConversionFailed {
		return nil, kberrors.Precondition(
			"markdown can be replaced only after conversion finished, current state %s", d.Conversion)
	}

	d.Status = model.StatusConfirmed
	d.ConfirmedAt = time.Now()
	if err := s.ApplyMarkdown(ctx, d, string(markdown)); err != nil {
		return nil, err
	}
	return d, nil
}

// RetryConversion re-enqueues a document whose conversion is pending or
// failed.
func (s *Service) RetryConversion(ctx context.Context, actor model.Tenant, id int64) error {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	if d.Conversion != model.ConversionFailed && d.Conversion != model.ConversionPending {
		return kberrors.Precondition("conversion is %s, nothing to retry", d.Conversion)
	}

	d.Conversion = model.ConversionPending
	d.ConversionError = ""
	if err := s.store.UpdateDocument(ctx, d); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, queue.Job{DocumentID: d.ID})
}

// Confirm submits an uploaded, conversion-ready document for review.
func (s *Service) Confirm(ctx context.Context, actor model.Tenant, id int64) (*model.Document, error) {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !d.Confirmable() {
		return nil, kberrors.Precondition(
			"document %d cannot be confirmed: status %s, conversion %s", id, d.Status, d.Conversion)
	}

	d.Status = model.StatusConfirmed
	d.ConfirmedAt = time.Now()
	if err := s.store.UpdateDocument(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes a document in any state. Downstream artifacts (vectors,
// blobs) are removed best-effort; reconciliation is the backstop.
func (s *Service) Delete(ctx context.Context, actor model.Tenant, id int64) error {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return err
	}

	if err := s.index.DeleteDocument(ctx, model.Partition(d.OwnerID), d.ID); err != nil {
		s.log.Warn("vector_delete_failed", slog.Int64("document_id", id), slog.String("error", err.Error()))
	}
	if d.ObjectKey != "" {
		if err := s.blobs.Delete(ctx, d.ObjectKey); err != nil {
			s.log.Warn("blob_delete_failed", slog.String("key", d.ObjectKey), slog.String("error", err.Error()))
		}
	}
	if d.MarkdownKey != "" {
		if err := s.blobs.Delete(ctx, d.MarkdownKey); err != nil {
			s.log.Warn("blob_delete_failed", slog.String("key", d.MarkdownKey), slog.String("error", err.Error()))
		}
	}
	return s.store.DeleteDocument(ctx, id)
}

// DeleteResult is the per-document outcome of DeleteMany.
type DeleteResult struct {
	DocumentID int64
	Err        error
}

// DeleteMany deletes documents individually, collecting per-id outcomes.
func (s *Service) DeleteMany(ctx context.Context, actor model.Tenant, ids []int64) []DeleteResult {
	results := make([]DeleteResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, DeleteResult{DocumentID: id, Err: s.Delete(ctx, actor, id)})
	}
	return results
}

package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// Approve accepts a document for indexing. Approval from uploaded is the
// fast path where the reviewer accepts the automatic chunks as-is. On an
// indexing failure the document stays approved so indexing can be retried.
func (s *Service) Approve(ctx context.Context, actor model.Tenant, id int64) (*model.Document, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Reviewable() {
		return nil, kberrors.Precondition("document %d is %s, cannot approve", id, d.Status)
	}
	if d.Conversion != model.ConversionReady {
		return nil, kberrors.Precondition("document %d conversion is %s, cannot approve", id, d.Conversion)
	}

	d.Status = model.StatusApproved
	d.ReviewerID = actor.ID
	d.ReviewedAt = time.Now()
	d.RejectReason = ""
	if err := s.store.UpdateDocument(ctx, d); err != nil {
		return nil, err
	}
	if err := s.store.AddReviewAction(ctx, &model.ReviewAction{
		DocumentID: id,
		ReviewerID: actor.ID,
		Action:     model.ReviewApprove,
	}); err != nil {
		return nil, err
	}

	if err := s.indexer.IndexDocument(ctx, id); err != nil {
		s.log.Error("indexing_failed", slog.Int64("document_id", id), slog.String("error", err.Error()))
		return d, err
	}

	d.Status = model.StatusIndexed
	d.IndexedAt = time.Now()
	if err := s.store.UpdateDocument(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Reject declines a document with a mandatory reason.
func (s *Service) Reject(ctx context.Context, actor model.Tenant, id int64, reason string) (*model.Document, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, kberrors.Validation("a rejection reason is required")
	}

	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Reviewable() {
		return nil, kberrors.Precondition("document %d is %s, cannot reject", id, d.Status)
	}

	d.Status = model.StatusRejected
	d.RejectReason = reason
	d.ReviewerID = actor.ID
	d.ReviewedAt = time.Now()
	if err := s.store.UpdateDocument(ctx, d); err != nil {
		return nil, err
	}
	if err := s.store.AddReviewAction(ctx, &model.ReviewAction{
		DocumentID: id,
		ReviewerID: actor.ID,
		Action:     model.ReviewReject,
		Reason:     reason,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// Resubmit puts a rejected document back in the review queue.
func (s *Service) Resubmit(ctx context.Context, actor model.Tenant, id int64) (*model.Document, error) {
	d, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !d.Resubmittable() {
		return nil, kberrors.Precondition("document %d is %s, only rejected documents can be resubmitted", id, d.Status)
	}

	d.Status = model.StatusConfirmed
	d.ConfirmedAt = time.Now()
	d.RejectReason = ""
	if err := s.store.UpdateDocument(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ReviewHistory returns a document's audit log.
func (s *Service) ReviewHistory(ctx context.Context, actor model.Tenant, id int64) ([]model.ReviewAction, error) {
	if _, err := s.loadOwned(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.ListReviewActions(ctx, id)
}

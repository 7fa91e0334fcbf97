// Package model defines the core domain records for kbase: documents,
// chunks, review audit rows, and tenant settings.
package model

import (
	"fmt"
	"time"
)

// DocumentStatus is the review/indexing lifecycle state of a document.
type DocumentStatus string

const (
	// StatusUploaded means the document arrived and is waiting for its owner
	// to confirm submission once conversion finishes.
	StatusUploaded DocumentStatus = "uploaded"
	// StatusConfirmed means the owner submitted the document for review.
	StatusConfirmed DocumentStatus = "confirmed"
	// StatusApproved is the transient state set while indexing runs after a
	// reviewer approves. A failed indexing attempt leaves the document here.
	StatusApproved DocumentStatus = "approved"
	// StatusIndexed means vectors are live and the document is retrievable.
	StatusIndexed DocumentStatus = "indexed"
	// StatusRejected means a reviewer rejected the document with a reason.
	StatusRejected DocumentStatus = "rejected"
)

// ConversionStatus tracks the Markdown conversion pipeline.
type ConversionStatus string

const (
	ConversionPending    ConversionStatus = "pending"
	ConversionProcessing ConversionStatus = "processing"
	ConversionReady      ConversionStatus = "ready"
	ConversionFailed     ConversionStatus = "failed"
)

// Document is the metadata record for an uploaded file.
// Postgres rows are canonical; object store content and index vectors are
// derived from them.
type Document struct {
	ID          int64
	Filename    string
	ContentType string
	SizeBytes   int64
	SHA256      string
	Status      DocumentStatus
	PreviewText string

	Bucket    string
	ObjectKey string

	OwnerID    int64
	UploaderID int64
	ReviewerID int64

	MarkdownKey     string
	Conversion      ConversionStatus
	ConversionError string

	RejectReason string

	CreatedAt   time.Time
	ConfirmedAt time.Time
	ReviewedAt  time.Time
	IndexedAt   time.Time
}

// Partition returns the vector index partition for an owner.
func Partition(ownerID int64) string {
	return fmt.Sprintf("tenant_%d", ownerID)
}

// Reviewable reports whether a reviewer may approve or reject the document.
// Approval additionally requires the conversion to be ready.
func (d *Document) Reviewable() bool {
	return d.Status == StatusUploaded || d.Status == StatusConfirmed
}

// Confirmable reports whether the owner may confirm submission.
func (d *Document) Confirmable() bool {
	return d.Status == StatusUploaded && d.Conversion == ConversionReady
}

// Resubmittable reports whether the owner may resubmit after rejection.
func (d *Document) Resubmittable() bool {
	return d.Status == StatusRejected
}

// Chunk is one reviewed unit of document text.
// chunk_index is dense per document: 0..n-1 with no gaps.
type Chunk struct {
	ID         int64
	DocumentID int64
	Index      int
	Content    string
	CharCount  int
	// Included controls whether the chunk participates in indexing.
	Included bool
}

// ReviewActionType is a reviewer decision recorded in the audit log.
type ReviewActionType string

const (
	ReviewApprove ReviewActionType = "approve"
	ReviewReject  ReviewActionType = "reject"
)

// ReviewAction is an immutable audit row for a reviewer decision.
type ReviewAction struct {
	ID         int64
	DocumentID int64
	ReviewerID int64
	Action     ReviewActionType
	Reason     string
	CreatedAt  time.Time
}

// Tenant identifies an acting principal. Admin tenants can review, see all
// documents, and query across partitions.
type Tenant struct {
	ID    int64
	Name  string
	Admin bool
}

// CanAccess reports whether the tenant may operate on a document it does
// not own.
func (t Tenant) CanAccess(d *Document) bool {
	return t.Admin || d.OwnerID == t.ID
}

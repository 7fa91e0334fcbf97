package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect opens a pool, verifies connectivity, and applies the schema.
func Connect(ctx context.Context, url string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeConfigInvalid, "parsing database url", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "creating connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, kberrors.New(kberrors.CodeDB, "pinging database", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Pool exposes the underlying pool for collaborators that share it
// (the pgvector index lives in the same database).
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const documentColumns = `id, owner_id, uploader_id, reviewer_id, filename, content_type,
	size_bytes, sha256, status, preview_text, bucket, object_key, markdown_key,
	conversion, conversion_error, reject_reason, created_at, confirmed_at, reviewed_at, indexed_at`

// CreateDocument inserts d and fills its ID and CreatedAt.
func (p *Postgres) CreateDocument(ctx context.Context, d *model.Document) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO documents (owner_id, uploader_id, reviewer_id, filename, content_type,
			size_bytes, sha256, status, preview_text, bucket, object_key, markdown_key,
			conversion, conversion_error, reject_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`,
		d.OwnerID, d.UploaderID, d.ReviewerID, d.Filename, d.ContentType,
		d.SizeBytes, d.SHA256, d.Status, d.PreviewText, d.Bucket, d.ObjectKey, d.MarkdownKey,
		d.Conversion, d.ConversionError, d.RejectReason,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "inserting document", err)
	}
	return nil
}

// GetDocument loads one document by id.
func (p *Postgres) GetDocument(ctx context.Context, id int64) (*model.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kberrors.NotFound("document %d not found", id)
	}
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "loading document", err)
	}
	return d, nil
}

// UpdateDocument writes all mutable fields of d.
func (p *Postgres) UpdateDocument(ctx context.Context, d *model.Document) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE documents SET
			reviewer_id = $2, status = $3, preview_text = $4, markdown_key = $5,
			conversion = $6, conversion_error = $7, reject_reason = $8,
			confirmed_at = $9, reviewed_at = $10, indexed_at = $11
		WHERE id = $1`,
		d.ID, d.ReviewerID, d.Status, d.PreviewText, d.MarkdownKey,
		d.Conversion, d.ConversionError, d.RejectReason,
		nullTime(d.ConfirmedAt), nullTime(d.ReviewedAt), nullTime(d.IndexedAt),
	)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "updating document", err)
	}
	if tag.RowsAffected() == 0 {
		return kberrors.NotFound("document %d not found", d.ID)
	}
	return nil
}

// DeleteDocument removes the document; chunks cascade.
func (p *Postgres) DeleteDocument(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "deleting document", err)
	}
	if tag.RowsAffected() == 0 {
		return kberrors.NotFound("document %d not found", id)
	}
	return nil
}

// ListDocuments returns one page plus the total match count.
func (p *Postgres) ListDocuments(ctx context.Context, f DocumentFilter) ([]model.Document, int, error) {
	where := ` WHERE true`
	args := []any{}

	if f.OwnerID != 0 {
		args = append(args, f.OwnerID)
		where += ` AND owner_id = ` + placeholder(len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where += ` AND status = ANY(` + placeholder(len(args)) + `)`
	} else if !f.IncludeRejected {
		args = append(args, string(model.StatusRejected))
		where += ` AND status <> ` + placeholder(len(args))
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, kberrors.New(kberrors.CodeDB, "counting documents", err)
	}

	page, pageSize := normalizePage(f.Page, f.PageSize)
	args = append(args, pageSize, (page-1)*pageSize)
	query := `SELECT ` + documentColumns + ` FROM documents` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ` + placeholder(len(args)-1) + ` OFFSET ` + placeholder(len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, kberrors.New(kberrors.CodeDB, "listing documents", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, kberrors.New(kberrors.CodeDB, "scanning document", err)
		}
		docs = append(docs, *d)
	}
	return docs, total, rows.Err()
}

// ListPendingReview returns confirmed, conversion-ready documents with
// their chunk counts, oldest first.
func (p *Postgres) ListPendingReview(ctx context.Context) ([]PendingReview, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+prefixColumns("d", documentColumns)+`, count(c.id)
		FROM documents d
		LEFT JOIN chunks c ON c.document_id = d.id
		WHERE d.status = $1 AND d.conversion = $2
		GROUP BY d.id
		ORDER BY d.confirmed_at ASC NULLS LAST, d.id ASC`,
		model.StatusConfirmed, model.ConversionReady)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "listing pending reviews", err)
	}
	defer rows.Close()

	var out []PendingReview
	for rows.Next() {
		var pr PendingReview
		if err := scanDocumentInto(rows, &pr.Document, &pr.ChunkCount); err != nil {
			return nil, kberrors.New(kberrors.CodeDB, "scanning pending review", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ListByStatus returns every document in any of the given statuses.
func (p *Postgres) ListByStatus(ctx context.Context, statuses ...model.DocumentStatus) ([]model.Document, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = ANY($1) ORDER BY id ASC`, vals)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "listing documents by status", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, kberrors.New(kberrors.CodeDB, "scanning document", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var d model.Document
	if err := scanDocumentInto(row, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// scanDocumentInto scans the documentColumns set into d, then any extras.
func scanDocumentInto(row rowScanner, d *model.Document, extra ...any) error {
	var confirmedAt, reviewedAt, indexedAt *time.Time
	dest := []any{
		&d.ID, &d.OwnerID, &d.UploaderID, &d.ReviewerID, &d.Filename, &d.ContentType,
		&d.SizeBytes, &d.SHA256, &d.Status, &d.PreviewText, &d.Bucket, &d.ObjectKey, &d.MarkdownKey,
		&d.Conversion, &d.ConversionError, &d.RejectReason, &d.CreatedAt, &confirmedAt, &reviewedAt, &indexedAt,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	d.ConfirmedAt = fromNullTime(confirmedAt)
	d.ReviewedAt = fromNullTime(reviewedAt)
	d.IndexedAt = fromNullTime(indexedAt)
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

func placeholder(n int) string {
	const digits = "0123456789"
	if n < 10 {
		return "$" + digits[n:n+1]
	}
	return "$" + digits[n/10:n/10+1] + digits[n%10:n%10+1]
}

// prefixColumns qualifies each column in cols with a table alias.
func prefixColumns(alias, cols string) string {
	parts := []byte{}
	for _, col := range splitColumns(cols) {
		if len(parts) > 0 {
			parts = append(parts, ", "...)
		}
		parts = append(parts, alias+"."+col...)
	}
	return string(parts)
}

func splitColumns(cols string) []string {
	var out []string
	field := []byte{}
	for i := 0; i < len(cols); i++ {
		switch cols[i] {
		case ',':
			out = append(out, string(field))
			field = field[:0]
		case ' ', '\n', '\t':
			// skip whitespace between columns
		default:
			field = append(field, cols[i])
		}
	}
	if len(field) > 0 {
		out = append(out, string(field))
	}
	return out
}

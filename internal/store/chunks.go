package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/docuforge/kbase/internal/convert"
	"github.com/docuforge/kbase/internal/kberrors"
	"github.com/docuforge/kbase/internal/model"
)

// ReplaceChunks swaps the full chunk set of a document in one transaction.
// New chunks are included by default and numbered 0..n-1.
func (p *Postgres) ReplaceChunks(ctx context.Context, documentID int64, contents []string) ([]model.Chunk, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "clearing chunks", err)
	}

	chunks := make([]model.Chunk, 0, len(contents))
	batch := &pgx.Batch{}
	for i, content := range contents {
		content = convert.StripNUL(content)
		batch.Queue(`
			INSERT INTO chunks (document_id, chunk_index, content, char_count, included)
			VALUES ($1, $2, $3, $4, true)
			RETURNING id`,
			documentID, i, content, len([]rune(content)))
		chunks = append(chunks, model.Chunk{
			DocumentID: documentID,
			Index:      i,
			Content:    content,
			CharCount:  len([]rune(content)),
			Included:   true,
		})
	}

	br := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if err := br.QueryRow().Scan(&chunks[i].ID); err != nil {
			br.Close()
			return nil, kberrors.New(kberrors.CodeDB, "inserting chunks", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "closing chunk batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "committing chunk replace", err)
	}
	return chunks, nil
}

// ListChunks returns one page of a document's chunks in index order, plus
// the total count.
func (p *Postgres) ListChunks(ctx context.Context, documentID int64, page, pageSize int) ([]model.Chunk, int, error) {
	var total int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&total)
	if err != nil {
		return nil, 0, kberrors.New(kberrors.CodeDB, "counting chunks", err)
	}

	page, pageSize = normalizePage(page, pageSize)
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, char_count, included
		FROM chunks WHERE document_id = $1
		ORDER BY chunk_index ASC
		LIMIT $2 OFFSET $3`,
		documentID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, kberrors.New(kberrors.CodeDB, "listing chunks", err)
	}
	defer rows.Close()

	chunks, err := collectChunks(rows)
	if err != nil {
		return nil, 0, err
	}
	return chunks, total, nil
}

// GetChunk loads one chunk by document and index.
func (p *Postgres) GetChunk(ctx context.Context, documentID int64, index int) (*model.Chunk, error) {
	var c model.Chunk
	err := p.pool.QueryRow(ctx, `
		SELECT id, document_id, chunk_index, content, char_count, included
		FROM chunks WHERE document_id = $1 AND chunk_index = $2`,
		documentID, index).
		Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.CharCount, &c.Included)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kberrors.NotFound("chunk %d of document %d not found", index, documentID)
	}
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "loading chunk", err)
	}
	return &c, nil
}

// AppendChunk adds a new chunk at the end of the document.
func (p *Postgres) AppendChunk(ctx context.Context, documentID int64, content string) (*model.Chunk, error) {
	content = convert.StripNUL(content)
	c := model.Chunk{
		DocumentID: documentID,
		Content:    content,
		CharCount:  len([]rune(content)),
		Included:   true,
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO chunks (document_id, chunk_index, content, char_count, included)
		SELECT $1, coalesce(max(chunk_index) + 1, 0), $2, $3, true
		FROM chunks WHERE document_id = $1
		RETURNING id, chunk_index`,
		documentID, content, c.CharCount).Scan(&c.ID, &c.Index)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "appending chunk", err)
	}
	return &c, nil
}

// UpdateChunk applies a partial update to one chunk.
func (p *Postgres) UpdateChunk(ctx context.Context, documentID int64, index int, patch ChunkPatch) (*model.Chunk, error) {
	c, err := p.GetChunk(ctx, documentID, index)
	if err != nil {
		return nil, err
	}
	if patch.Content != nil {
		c.Content = convert.StripNUL(*patch.Content)
		c.CharCount = len([]rune(c.Content))
	}
	if patch.Included != nil {
		c.Included = *patch.Included
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE chunks SET content = $3, char_count = $4, included = $5
		WHERE document_id = $1 AND chunk_index = $2`,
		documentID, index, c.Content, c.CharCount, c.Included)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "updating chunk", err)
	}
	return c, nil
}

// DeleteChunk removes one chunk and renumbers the rest so indexes stay
// dense. The shift collides with the unique constraint under IMMEDIATE
// checking, so it runs deferred.
func (p *Postgres) DeleteChunk(ctx context.Context, documentID int64, index int) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET CONSTRAINTS uq_chunks_doc_idx DEFERRED`); err != nil {
		return kberrors.New(kberrors.CodeDB, "deferring chunk constraint", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND chunk_index = $2`,
		documentID, index)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "deleting chunk", err)
	}
	if tag.RowsAffected() == 0 {
		return kberrors.NotFound("chunk %d of document %d not found", index, documentID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE chunks SET chunk_index = chunk_index - 1
		WHERE document_id = $1 AND chunk_index > $2`,
		documentID, index)
	if err != nil {
		return kberrors.New(kberrors.CodeDB, "renumbering chunks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return kberrors.New(kberrors.CodeDB, "committing chunk delete", err)
	}
	return nil
}

// IncludedChunks returns every included chunk of a document in index order.
func (p *Postgres) IncludedChunks(ctx context.Context, documentID int64) ([]model.Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, char_count, included
		FROM chunks WHERE document_id = $1 AND included
		ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "listing included chunks", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// CountChunks returns the total chunk count of a document.
func (p *Postgres) CountChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, kberrors.New(kberrors.CodeDB, "counting chunks", err)
	}
	return n, nil
}

func collectChunks(rows pgx.Rows) ([]model.Chunk, error) {
	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.CharCount, &c.Included); err != nil {
			return nil, kberrors.New(kberrors.CodeDB, "scanning chunk", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, kberrors.New(kberrors.CodeDB, "reading chunks", err)
	}
	return chunks, nil
}

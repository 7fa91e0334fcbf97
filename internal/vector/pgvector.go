package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/docuforge/kbase/internal/kberrors"
)

// PgIndex stores embeddings in a pgvector table alongside the metadata
// rows, so vectors and rows commit to the same database.
type PgIndex struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

var _ Index = (*PgIndex)(nil)

// NewPgIndex builds an index over the given pool and table name.
func NewPgIndex(pool *pgxpool.Pool, table string, dimension int) *PgIndex {
	return &PgIndex{pool: pool, table: table, dimension: dimension}
}

// EnsureReady creates the extension and table, then checks that any
// existing table was declared with the configured dimension. Silently
// truncated or padded vectors would poison every similarity score, so a
// mismatch aborts startup.
func (p *PgIndex) EnsureReady(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return kberrors.New(kberrors.CodeVector, "creating vector extension", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id          BIGINT PRIMARY KEY,
		tenant      TEXT NOT NULL,
		document_id BIGINT NOT NULL,
		chunk_index INT NOT NULL,
		embedding   vector(%d) NOT NULL
	)`, p.table, p.dimension)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return kberrors.New(kberrors.CodeVector, "creating vector table", err)
	}
	idx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_tenant ON %s (tenant)`, p.table, p.table)
	if _, err := p.pool.Exec(ctx, idx); err != nil {
		return kberrors.New(kberrors.CodeVector, "creating tenant index", err)
	}

	var stored int
	err := p.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`, p.table).Scan(&stored)
	if err != nil {
		return kberrors.New(kberrors.CodeVector, "reading embedding column type", err)
	}
	if stored != p.dimension {
		return kberrors.Newf(kberrors.CodeDimensionMismatch,
			"vector table %s has dimension %d, config wants %d; migrate or reindex before starting",
			p.table, stored, p.dimension)
	}
	return nil
}

func (p *PgIndex) Upsert(ctx context.Context, partition string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		if len(e.Vector) != p.dimension {
			return kberrors.Newf(kberrors.CodeDimensionMismatch,
				"embedding for document %d chunk %d has dimension %d, index wants %d",
				e.DocumentID, e.ChunkIndex, len(e.Vector), p.dimension)
		}
		batch.Queue(fmt.Sprintf(`
			INSERT INTO %s (id, tenant, document_id, chunk_index, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				tenant = EXCLUDED.tenant, embedding = EXCLUDED.embedding`, p.table),
			PointID(e.DocumentID, e.ChunkIndex), partition,
			e.DocumentID, e.ChunkIndex, pgvector.NewVector(e.Vector))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return kberrors.New(kberrors.CodeVector, "upserting vectors", err)
	}
	return nil
}

func (p *PgIndex) DeleteDocument(ctx context.Context, partition string, documentID int64) error {
	_, err := p.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE tenant = $1 AND document_id = $2`, p.table),
		partition, documentID)
	if err != nil {
		return kberrors.New(kberrors.CodeVector, "deleting document vectors", err)
	}
	return nil
}

func (p *PgIndex) DeleteChunk(ctx context.Context, partition string, documentID int64, chunkIndex int) error {
	_, err := p.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE tenant = $1 AND id = $2`, p.table),
		partition, PointID(documentID, chunkIndex))
	if err != nil {
		return kberrors.New(kberrors.CodeVector, "deleting chunk vector", err)
	}
	return nil
}

func (p *PgIndex) Search(ctx context.Context, partitions []string, query []float32, k int) ([]Match, error) {
	if len(query) != p.dimension {
		return nil, kberrors.Newf(kberrors.CodeDimensionMismatch,
			"query has dimension %d, index wants %d", len(query), p.dimension)
	}
	if len(partitions) == 0 || k <= 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT document_id, chunk_index, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE tenant = ANY($2)
		ORDER BY embedding <=> $1
		LIMIT $3`, p.table),
		pgvector.NewVector(query), partitions, k)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeVector, "searching vectors", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var score float64
		if err := rows.Scan(&m.DocumentID, &m.ChunkIndex, &score); err != nil {
			return nil, kberrors.New(kberrors.CodeVector, "scanning match", err)
		}
		m.Score = clampScore(float32(score))
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *PgIndex) Count(ctx context.Context, partition string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE tenant = $1`, p.table),
		partition).Scan(&n)
	if err != nil {
		return 0, kberrors.New(kberrors.CodeVector, "counting vectors", err)
	}
	return n, nil
}

// Close is a no-op; the pool belongs to the metadata store.
func (p *PgIndex) Close() error { return nil }

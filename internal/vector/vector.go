// Package vector holds the derived similarity index. Entries are keyed by
// a point id computed from (document_id, chunk_index) so the index can
// always be rebuilt from the metadata rows.
package vector

import "context"

// pointSpan is the id range reserved per document. A document holds at
// most pointSpan chunks.
const pointSpan = 1_000_000

// PointID packs a document id and chunk index into one index key.
func PointID(documentID int64, chunkIndex int) int64 {
	return documentID*pointSpan + int64(chunkIndex)
}

// SplitPointID recovers the document id and chunk index from a point id.
func SplitPointID(id int64) (documentID int64, chunkIndex int) {
	return id / pointSpan, int(id % pointSpan)
}

// Entry is one chunk embedding bound for the index.
type Entry struct {
	DocumentID int64
	ChunkIndex int
	Vector     []float32
}

// Match is one search hit. Score is cosine similarity clamped to [0, 1].
type Match struct {
	DocumentID int64
	ChunkIndex int
	Score      float32
}

// Index is the similarity index contract. Partitions isolate tenants;
// a search never crosses the partitions it was given.
type Index interface {
	// EnsureReady prepares storage and verifies the configured dimension.
	// A dimension conflict with existing data is fatal.
	EnsureReady(ctx context.Context) error

	// Upsert writes entries into a partition, replacing same-key points.
	Upsert(ctx context.Context, partition string, entries []Entry) error

	// DeleteDocument removes every point of a document from a partition.
	DeleteDocument(ctx context.Context, partition string, documentID int64) error

	// DeleteChunk removes a single point.
	DeleteChunk(ctx context.Context, partition string, documentID int64, chunkIndex int) error

	// Search returns the top k matches across the given partitions,
	// best first.
	Search(ctx context.Context, partitions []string, query []float32, k int) ([]Match, error)

	// Count reports how many live points a partition holds.
	Count(ctx context.Context, partition string) (int, error)

	Close() error
}

func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

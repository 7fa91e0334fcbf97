package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	"github.com/docuforge/kbase/internal/kberrors"
)

// HNSWIndex is an in-process index backed by one coder/hnsw graph per
// partition, persisted under a directory. It serves single-node setups
// where Postgres lacks the vector extension.
type HNSWIndex struct {
	mu         sync.RWMutex
	dir        string
	dimension  int
	partitions map[string]*hnswPartition
	closed     bool
}

// hnswPartition maps point ids to graph keys. Removal is lazy: the graph
// node stays but loses its id mapping, because coder/hnsw misbehaves when
// the last node is deleted.
type hnswPartition struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[int64]uint64
	keyMap  map[uint64]int64
	nextKey uint64
}

// hnswMeta is the gob-persisted sidecar for one partition.
type hnswMeta struct {
	IDMap     map[int64]uint64
	NextKey   uint64
	Dimension int
}

var _ Index = (*HNSWIndex)(nil)

// NewHNSWIndex builds an index rooted at dir.
func NewHNSWIndex(dir string, dimension int) *HNSWIndex {
	return &HNSWIndex{
		dir:        dir,
		dimension:  dimension,
		partitions: make(map[string]*hnswPartition),
	}
}

func newHNSWPartition() *hnswPartition {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return &hnswPartition{
		graph:  graph,
		idMap:  make(map[int64]uint64),
		keyMap: make(map[uint64]int64),
	}
}

// EnsureReady loads every persisted partition and checks its dimension.
func (h *HNSWIndex) EnsureReady(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return kberrors.New(kberrors.CodeVector, "creating index directory", err)
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return kberrors.New(kberrors.CodeVector, "reading index directory", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".hnsw") {
			continue
		}
		partition := strings.TrimSuffix(name, ".hnsw")
		p, dim, err := h.loadPartition(partition)
		if err != nil {
			return err
		}
		if dim != 0 && dim != h.dimension {
			return kberrors.Newf(kberrors.CodeDimensionMismatch,
				"partition %s was built with dimension %d, config wants %d; reindex before starting",
				partition, dim, h.dimension)
		}
		h.partitions[partition] = p
	}
	return nil
}

func (h *HNSWIndex) Upsert(_ context.Context, partition string, entries []Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return kberrors.Newf(kberrors.CodeVector, "index is closed")
	}

	p := h.partitions[partition]
	if p == nil {
		p = newHNSWPartition()
		h.partitions[partition] = p
	}

	for _, e := range entries {
		if len(e.Vector) != h.dimension {
			return kberrors.Newf(kberrors.CodeDimensionMismatch,
				"embedding for document %d chunk %d has dimension %d, index wants %d",
				e.DocumentID, e.ChunkIndex, len(e.Vector), h.dimension)
		}
		id := PointID(e.DocumentID, e.ChunkIndex)
		if oldKey, ok := p.idMap[id]; ok {
			delete(p.keyMap, oldKey)
			delete(p.idMap, id)
		}

		key := p.nextKey
		p.nextKey++

		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		normalize(vec)

		p.graph.Add(hnsw.MakeNode(key, vec))
		p.idMap[id] = key
		p.keyMap[key] = id
	}
	return h.savePartition(partition, p)
}

func (h *HNSWIndex) DeleteDocument(_ context.Context, partition string, documentID int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.partitions[partition]
	if p == nil {
		return nil
	}
	lo, hi := PointID(documentID, 0), PointID(documentID+1, 0)
	for id, key := range p.idMap {
		if id >= lo && id < hi {
			delete(p.keyMap, key)
			delete(p.idMap, id)
		}
	}
	return h.savePartition(partition, p)
}

func (h *HNSWIndex) DeleteChunk(_ context.Context, partition string, documentID int64, chunkIndex int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := h.partitions[partition]
	if p == nil {
		return nil
	}
	id := PointID(documentID, chunkIndex)
	if key, ok := p.idMap[id]; ok {
		delete(p.keyMap, key)
		delete(p.idMap, id)
	}
	return h.savePartition(partition, p)
}

func (h *HNSWIndex) Search(_ context.Context, partitions []string, query []float32, k int) ([]Match, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, kberrors.Newf(kberrors.CodeVector, "index is closed")
	}
	if len(query) != h.dimension {
		return nil, kberrors.Newf(kberrors.CodeDimensionMismatch,
			"query has dimension %d, index wants %d", len(query), h.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalize(normalized)

	var matches []Match
	for _, name := range partitions {
		p := h.partitions[name]
		if p == nil || p.graph.Len() == 0 {
			continue
		}
		// Over-fetch to cover lazily deleted nodes still in the graph.
		orphans := p.graph.Len() - len(p.idMap)
		nodes := p.graph.Search(normalized, k+orphans)
		for _, node := range nodes {
			id, ok := p.keyMap[node.Key]
			if !ok {
				continue
			}
			docID, chunkIdx := SplitPointID(id)
			distance := p.graph.Distance(normalized, node.Value)
			matches = append(matches, Match{
				DocumentID: docID,
				ChunkIndex: chunkIdx,
				Score:      clampScore(1 - distance),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].DocumentID != matches[j].DocumentID {
			return matches[i].DocumentID < matches[j].DocumentID
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (h *HNSWIndex) Count(_ context.Context, partition string) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.partitions[partition]
	if p == nil {
		return 0, nil
	}
	return len(p.idMap), nil
}

func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.partitions = nil
	return nil
}

func (h *HNSWIndex) graphPath(partition string) string {
	return filepath.Join(h.dir, partition+".hnsw")
}

// savePartition persists graph and sidecar atomically via temp + rename.
func (h *HNSWIndex) savePartition(partition string, p *hnswPartition) error {
	path := h.graphPath(partition)

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return kberrors.New(kberrors.CodeVector, "creating graph file", err)
	}
	if err := p.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return kberrors.New(kberrors.CodeVector, "exporting graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return kberrors.New(kberrors.CodeVector, "closing graph file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return kberrors.New(kberrors.CodeVector, "renaming graph file", err)
	}

	metaTmp := path + ".meta.tmp"
	metaFile, err := os.Create(metaTmp)
	if err != nil {
		return kberrors.New(kberrors.CodeVector, "creating meta file", err)
	}
	meta := hnswMeta{IDMap: p.idMap, NextKey: p.nextKey, Dimension: h.dimension}
	if err := gob.NewEncoder(metaFile).Encode(meta); err != nil {
		metaFile.Close()
		os.Remove(metaTmp)
		return kberrors.New(kberrors.CodeVector, "encoding meta", err)
	}
	if err := metaFile.Close(); err != nil {
		os.Remove(metaTmp)
		return kberrors.New(kberrors.CodeVector, "closing meta file", err)
	}
	if err := os.Rename(metaTmp, path+".meta"); err != nil {
		os.Remove(metaTmp)
		return kberrors.New(kberrors.CodeVector, "renaming meta file", err)
	}
	return nil
}

func (h *HNSWIndex) loadPartition(partition string) (*hnswPartition, int, error) {
	path := h.graphPath(partition)

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, 0, kberrors.New(kberrors.CodeVector, "opening meta file", err)
	}
	defer metaFile.Close()

	var meta hnswMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, 0, kberrors.New(kberrors.CodeVector, "decoding meta", err)
	}

	p := newHNSWPartition()
	p.idMap = meta.IDMap
	p.nextKey = meta.NextKey
	for id, key := range p.idMap {
		p.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, kberrors.New(kberrors.CodeVector, "opening graph file", err)
	}
	defer file.Close()

	// Import requires an io.ByteReader.
	if err := p.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, 0, kberrors.New(kberrors.CodeVector, "importing graph", err)
	}
	return p, meta.Dimension, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

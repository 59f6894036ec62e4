// Package vector implements the Dense Vector Index (spec §4.3): an
// in-process inner-product index over L2-normalized vectors, with a
// persisted string-id to integer-key mapping. Grounded directly on
// Aman-CERP-amanmcp/internal/store/hnsw.go, which wraps
// github.com/coder/hnsw in exactly this shape; adapted here for the
// single-index, FAISS-style "-1 sentinel" semantics spec.md describes
// (confirmed by original_source/vectorstore/faiss_store.py): a search hit
// whose key has no live string-id mapping is filtered out rather than
// surfaced, the same way FAISS's -1 would be.
package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// ErrDimensionMismatch is returned when a vector's length does not match the
// index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Result is one scored neighbor returned from Search.
type Result struct {
	ID    string
	Score float64
}

// Index is an in-process dense vector index over L2-normalized vectors,
// scored by inner product (equivalent to cosine similarity once vectors are
// normalized). Writes are serialized with a mutex; reads may run
// concurrently with each other but not with a write, matching spec §4.3's
// "async-mutex-serialized writes, lock-free reads" contract modulo Go's
// cooperative-scheduling model, where a single RWMutex gives the same
// observable behavior without a separate async lock primitive.
type Index struct {
	mu        sync.RWMutex
	graph     *hnsw.Graph[uint64]
	dimension int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

type persistedMeta struct {
	IDMap     map[string]uint64
	NextKey   uint64
	Dimension int
}

// New creates an empty dense vector index for vectors of the given
// dimension.
func New(dimension int) *Index {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &Index{
		graph:     graph,
		dimension: dimension,
		idMap:     make(map[string]uint64),
		keyMap:    make(map[uint64]string),
	}
}

// Add inserts or replaces the vector for id. Replacing an existing id uses
// lazy deletion (the old graph node is orphaned, not removed) to avoid a
// known coder/hnsw issue where deleting the last node in the graph breaks
// it; orphaned nodes are filtered out at search time via keyMap.
func (idx *Index) Add(ctx context.Context, id string, vec []float32) error {
	if len(vec) != idx.dimension {
		return ErrDimensionMismatch{Expected: idx.dimension, Got: len(vec)}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existingKey, ok := idx.idMap[id]; ok {
		delete(idx.keyMap, existingKey)
		delete(idx.idMap, id)
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	key := idx.nextKey
	idx.nextKey++

	idx.graph.Add(hnsw.MakeNode(key, normalized))
	idx.idMap[id] = key
	idx.keyMap[key] = id

	return nil
}

// Search returns up to k nearest neighbors to query by inner-product
// similarity, sorted descending by score. It caps k to the number of live
// vectors and silently drops any graph hit that resolves to an orphaned
// (deleted-then-not-remapped) key — the equivalent of FAISS returning -1 for
// "no match at this rank".
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != idx.dimension {
		return nil, ErrDimensionMismatch{Expected: idx.dimension, Got: len(query)}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil, nil
	}

	effectiveK := k
	if live := len(idx.idMap); effectiveK > live {
		effectiveK = live
	}
	if effectiveK <= 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := idx.graph.Search(normalized, effectiveK)

	results := make([]Result, 0, len(nodes))
	for _, node := range nodes {
		id, ok := idx.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := idx.graph.Distance(normalized, node.Value)
		results = append(results, Result{ID: id, Score: 1 - float64(distance)})
	}
	return results, nil
}

// Delete removes id from the index. Uses the same lazy-deletion strategy as
// Add's replace path.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if key, ok := idx.idMap[id]; ok {
		delete(idx.keyMap, key)
		delete(idx.idMap, id)
	}
}

// Size returns the number of live (non-orphaned) vectors.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idMap)
}

// Save persists the graph and its id mapping to path (graph) and
// path+".meta" (mapping), writing each via temp-file-then-rename so a crash
// mid-write never leaves a corrupt file in place.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating vector index directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating vector index file: %w", err)
	}
	if err := idx.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("exporting vector graph: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing vector index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming vector index file: %w", err)
	}

	return idx.saveMeta(path + ".meta")
}

func (idx *Index) saveMeta(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating vector metadata file: %w", err)
	}
	meta := persistedMeta{IDMap: idx.idMap, NextKey: idx.nextKey, Dimension: idx.dimension}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encoding vector metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing vector metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads an index previously written by Save.
func Load(path string) (*Index, error) {
	meta, err := loadMeta(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("loading vector metadata: %w", err)
	}

	idx := New(meta.Dimension)
	idx.idMap = meta.IDMap
	idx.nextKey = meta.NextKey
	idx.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		idx.keyMap[key] = id
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vector index file: %w", err)
	}
	defer f.Close()

	if err := idx.graph.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("importing vector graph: %w", err)
	}
	return idx, nil
}

func loadMeta(path string) (persistedMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return persistedMeta{}, err
	}
	defer f.Close()

	var meta persistedMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return persistedMeta{}, fmt.Errorf("decoding vector metadata: %w", err)
	}
	return meta, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

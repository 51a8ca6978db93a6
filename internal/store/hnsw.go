package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	"github.com/cpcloud/claudevil/internal/chunk"
	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
	"github.com/cpcloud/claudevil/pkg/version"
)

const (
	indexFileName    = "index.hnsw"
	metadataFileName = "metadata.json"
	lockFileName     = "store.lock"
)

// Store is an HNSW-backed vector store paired with a JSON metadata map,
// per §4.3. Insert and DeleteFile persist both files atomically before
// returning; Search, FindBySymbol, ListFiles, and ChunkCount take a
// shared lock.
type Store struct {
	mu  sync.RWMutex
	dir string

	graph     *hnsw.Graph[uint64]
	chunks    map[uint64]metadataRecord
	nextKey   uint64
	dimension int

	flock  *flock.Flock
	closed bool
}

// Open constructs a store rooted at dir, creating the directory if absent
// and loading existing on-disk state if present, or starting empty.
// dimension is the embedding dimension new rows must carry.
func Open(dir string, dimension int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to create store directory", err)
	}

	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to acquire store lock", err)
	}
	if !locked {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store directory is locked by another process", nil)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	s := &Store{
		dir:       dir,
		graph:     graph,
		chunks:    make(map[uint64]metadataRecord),
		dimension: dimension,
		flock:     fl,
	}

	if err := s.load(); err != nil {
		fl.Unlock()
		return nil, err
	}

	return s, nil
}

func (s *Store) indexPath() string    { return filepath.Join(s.dir, indexFileName) }
func (s *Store) metadataPath() string { return filepath.Join(s.dir, metadataFileName) }

// load reads index.hnsw and metadata.json if both are present. Per §4.3
// "On open, both must be loaded or both treated as empty; they may not
// diverge" — if either file is missing, the store starts empty rather
// than loading a half-state.
func (s *Store) load() error {
	_, indexErr := os.Stat(s.indexPath())
	_, metaErr := os.Stat(s.metadataPath())
	if os.IsNotExist(indexErr) || os.IsNotExist(metaErr) {
		return nil
	}
	if indexErr != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to stat index file", indexErr)
	}
	if metaErr != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to stat metadata file", metaErr)
	}

	metaFile, err := os.Open(s.metadataPath())
	if err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to open metadata file", err)
	}
	defer metaFile.Close()

	var mf metadataFile
	if err := json.NewDecoder(metaFile).Decode(&mf); err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeCorruptIndex, "failed to decode metadata.json", err)
	}
	if mf.SchemaVersion != 0 && mf.SchemaVersion != version.IndexSchemaVersion {
		return claudevilerrors.New(claudevilerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("store schema version %d is not supported by this binary (expected %d)", mf.SchemaVersion, version.IndexSchemaVersion), nil)
	}

	chunks := make(map[uint64]metadataRecord, len(mf.Chunks))
	for keyStr, rec := range mf.Chunks {
		key, err := strconv.ParseUint(keyStr, 10, 64)
		if err != nil {
			return claudevilerrors.New(claudevilerrors.ErrCodeCorruptIndex, "invalid record key in metadata.json", err)
		}
		chunks[key] = rec
	}

	idxFile, err := os.Open(s.indexPath())
	if err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to open index file", err)
	}
	defer idxFile.Close()

	if err := s.graph.Import(bufio.NewReader(idxFile)); err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeCorruptIndex, "failed to import HNSW graph", err)
	}

	s.chunks = chunks
	s.nextKey = mf.NextKey
	return nil
}

// Insert appends rows, allocating a fresh monotonic key to each, and
// persists atomically before returning. Empty input is a no-op.
func (s *Store) Insert(ctx context.Context, rows []chunk.Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store is closed", nil)
	}

	for _, row := range rows {
		if len(row.Vector) != s.dimension {
			return ErrDimensionMismatch{Expected: s.dimension, Got: len(row.Vector)}
		}
	}

	for _, row := range rows {
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(row.Vector))
		copy(vec, row.Vector)
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.chunks[key] = recordFromRow(row)
	}

	return s.persistLocked()
}

// Search returns up to limit nearest neighbors by cosine distance,
// optionally filtered to rows whose language matches, sorted ascending
// by distance. Empty store returns an empty result.
func (s *Store) Search(ctx context.Context, query []float32, limit int, language *string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store is closed", nil)
	}
	if len(query) != s.dimension {
		return nil, ErrDimensionMismatch{Expected: s.dimension, Got: len(query)}
	}
	if s.graph.Len() == 0 || limit <= 0 {
		return []Result{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	// Over-fetch to compensate for the language filter and for lazily
	// deleted nodes still resident in the graph.
	fetch := limit * 4
	if fetch < limit {
		fetch = limit
	}
	nodes := s.graph.Search(q, fetch)

	results := make([]Result, 0, limit)
	for _, node := range nodes {
		rec, ok := s.chunks[node.Key]
		if !ok {
			continue // lazily deleted
		}
		if language != nil && rec.Language != *language {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, rec.toResult(distance))
		if len(results) >= limit {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	return results, nil
}

// DeleteFile removes all rows with FilePath == path from the metadata map
// and persists. Their vectors are not removed from the HNSW graph; Search
// skips any graph node that has no metadata entry. A non-matching path is
// a no-op.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store is closed", nil)
	}

	var matched bool
	for key, rec := range s.chunks {
		if rec.FilePath == path {
			// Lazy deletion: drop the metadata entry but leave the node
			// in the graph. coder/hnsw has a known issue deleting the
			// last remaining node, and Search already filters any key
			// with no metadata entry.
			delete(s.chunks, key)
			matched = true
		}
	}
	if !matched {
		return nil
	}

	return s.persistLocked()
}

// FindBySymbol does a linear scan of metadata, returning rows whose
// symbol_name exists and contains pattern as a case-insensitive
// substring, optionally filtered to an exact symbol_kind. Distance is
// reported as 0.0.
func (s *Store) FindBySymbol(ctx context.Context, pattern string, kind *string, limit int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store is closed", nil)
	}

	needle := strings.ToLower(pattern)
	results := make([]Result, 0, limit)
	for _, rec := range s.chunks {
		if rec.SymbolName == nil {
			continue
		}
		if !strings.Contains(strings.ToLower(*rec.SymbolName), needle) {
			continue
		}
		if kind != nil && rec.SymbolKind != *kind {
			continue
		}
		results = append(results, rec.toResult(0.0))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FilePath != results[j].FilePath {
			return results[i].FilePath < results[j].FilePath
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListFiles returns distinct file paths in ascending order, optionally
// filtered to an exact language.
func (s *Store) ListFiles(ctx context.Context, language *string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store is closed", nil)
	}

	seen := make(map[string]struct{})
	for _, rec := range s.chunks {
		if language != nil && rec.Language != *language {
			continue
		}
		seen[rec.FilePath] = struct{}{}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// ChunkCount returns the number of rows currently stored.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "store is closed", nil)
	}
	return len(s.chunks), nil
}

// persistLocked writes index.hnsw and metadata.json atomically. Callers
// must hold s.mu for writing.
func (s *Store) persistLocked() error {
	if err := s.persistIndexLocked(); err != nil {
		return err
	}
	return s.persistMetadataLocked()
}

func (s *Store) persistIndexLocked() error {
	tmp := s.indexPath() + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to create index temp file", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreSerialize, "failed to export HNSW graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to close index temp file", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to rename index file", err)
	}
	return nil
}

func (s *Store) persistMetadataLocked() error {
	mf := metadataFile{
		SchemaVersion: version.IndexSchemaVersion,
		NextKey:       s.nextKey,
		Chunks:        make(map[string]metadataRecord, len(s.chunks)),
	}
	for key, rec := range s.chunks {
		mf.Chunks[strconv.FormatUint(key, 10)] = rec
	}

	tmp := s.metadataPath() + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to create metadata temp file", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(mf); err != nil {
		file.Close()
		os.Remove(tmp)
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreSerialize, "failed to encode metadata.json", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to close metadata temp file", err)
	}
	if err := os.Rename(tmp, s.metadataPath()); err != nil {
		os.Remove(tmp)
		return claudevilerrors.New(claudevilerrors.ErrCodeStoreIO, "failed to rename metadata file", err)
	}
	return nil
}

// Close releases the store's advisory lock. It does not persist; callers
// that mutated the store have already persisted via Insert/DeleteFile.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.flock.Unlock()
}

func normalizeVectorInPlace(v []float32) {
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

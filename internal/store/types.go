// Package store persists chunk rows in an HNSW approximate-nearest-neighbor
// index paired with a JSON metadata map, guarded by a single reader-writer
// lock per §4.3.
package store

import (
	"fmt"

	"github.com/cpcloud/claudevil/internal/chunk"
)

// Result is a single row returned by Search or FindBySymbol, annotated
// with its distance from the query (0.0 for exact-symbol matches).
type Result struct {
	FilePath     string
	ChunkID      int
	Language     string
	Content      string
	SymbolName   *string
	SymbolKind   string
	StartLine    int
	EndLine      int
	LastModified int64
	Distance     float32
}

// metadataRecord is the non-vector half of a chunk.Row, as persisted in
// metadata.json. The vector lives only in the ANN index.
type metadataRecord struct {
	FilePath     string  `json:"file_path"`
	ChunkID      int     `json:"chunk_id"`
	Language     string  `json:"language"`
	Content      string  `json:"content"`
	SymbolName   *string `json:"symbol_name,omitempty"`
	SymbolKind   string  `json:"symbol_kind"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	LastModified int64   `json:"last_modified"`
}

func recordFromRow(row chunk.Row) metadataRecord {
	return metadataRecord{
		FilePath:     row.FilePath,
		ChunkID:      row.ChunkID,
		Language:     row.Language,
		Content:      row.Content,
		SymbolName:   row.SymbolName,
		SymbolKind:   row.SymbolKind,
		StartLine:    row.StartLine,
		EndLine:      row.EndLine,
		LastModified: row.LastModified,
	}
}

func (r metadataRecord) toResult(distance float32) Result {
	return Result{
		FilePath:     r.FilePath,
		ChunkID:      r.ChunkID,
		Language:     r.Language,
		Content:      r.Content,
		SymbolName:   r.SymbolName,
		SymbolKind:   r.SymbolKind,
		StartLine:    r.StartLine,
		EndLine:      r.EndLine,
		LastModified: r.LastModified,
		Distance:     distance,
	}
}

// metadataFile is the on-disk shape of metadata.json. SchemaVersion is
// absent (decodes to zero) in files written before this field existed;
// load treats that the same as version.IndexSchemaVersion's original
// value rather than refusing to open a store nothing has actually
// changed under.
type metadataFile struct {
	SchemaVersion int                       `json:"schema_version"`
	NextKey       uint64                    `json:"next_key"`
	Chunks        map[string]metadataRecord `json:"chunks"`
}

// ErrDimensionMismatch indicates an inserted or queried vector doesn't
// match the store's configured embedding dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

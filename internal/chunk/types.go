// Package chunk splits source files into syntactically meaningful units
// using tree-sitter parse trees.
package chunk

// Chunk is a single syntactic unit extracted from a source file. It is
// transient: it exists from the moment it is parsed until it is embedded
// and inserted into the store, and is never persisted on its own.
type Chunk struct {
	// Content is the chunk's source text, including any leading comments
	// collected from immediately preceding comment siblings.
	Content string

	// SymbolName is the chunk's name, if the node exposes one.
	SymbolName *string

	// SymbolKind is the tree-sitter node kind that triggered emission,
	// e.g. "function_declaration".
	SymbolKind string

	// StartLine and EndLine are 1-indexed, inclusive.
	StartLine int
	EndLine   int
}

// Row extends Chunk with everything needed to persist it in a store.
type Row struct {
	Chunk

	// FilePath is relative to the indexed root.
	FilePath string

	// ChunkID is the 0-based index of this chunk within its file, assigned
	// in emission order.
	ChunkID int

	// Language is the configuration name the chunk was parsed under.
	Language string

	// LastModified is seconds since epoch, from filesystem metadata.
	LastModified int64

	// Vector is the L2-normalized embedding, length equal to the
	// embedder's dimensionality.
	Vector []float32
}

// LanguageConfig describes how one language is recognized and chunked.
type LanguageConfig struct {
	// Name is the configuration key, e.g. "go".
	Name string

	// Extensions are file extensions (without the leading dot) routed to
	// this language.
	Extensions []string

	// GrammarID selects the compiled-in tree-sitter grammar, validated
	// against the fixed set of grammars built into the binary.
	GrammarID string

	// ChunkOn is the set of node kinds that trigger chunk emission.
	ChunkOn map[string]struct{}
}

// HasChunkOn reports whether kind is one of the configured emission node
// kinds.
func (lc LanguageConfig) HasChunkOn(kind string) bool {
	_, ok := lc.ChunkOn[kind]
	return ok
}

// NewChunkOnSet builds a ChunkOn set from a slice of node-kind names.
func NewChunkOnSet(kinds []string) map[string]struct{} {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

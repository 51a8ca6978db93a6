package chunk

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

// Chunker splits source text into syntactically meaningful chunks using
// the grammars configured in its registry.
type Chunker struct {
	registry *Registry
	parsers  *parserPool
}

// New constructs a Chunker over the given language registry.
func New(registry *Registry) *Chunker {
	return &Chunker{
		registry: registry,
		parsers:  newParserPool(registry),
	}
}

// Chunk parses sourceText under languageName and returns every chunk
// found by a pre-order walk of the parse tree. It never panics on
// malformed source: the parse tree is taken as-is, best-effort.
func (c *Chunker) Chunk(sourceText []byte, languageName string) ([]Chunk, error) {
	if len(sourceText) == 0 {
		return nil, nil
	}

	gp, err := c.parsers.forLanguage(languageName)
	if err != nil {
		return nil, err
	}

	tree, err := gp.parse(sourceText)
	if err != nil {
		return nil, claudevilerrors.New(
			claudevilerrors.ErrCodeUnknownGrammar,
			fmt.Sprintf("failed to parse source as %q: %v", languageName, err),
			err,
		)
	}
	defer tree.Close()

	cfg, _ := c.registry.Lookup(languageName)

	var chunks []Chunk
	walk(tree.RootNode(), cfg, languageName, sourceText, &chunks)
	return chunks, nil
}

func walk(node *tree_sitter.Node, cfg LanguageConfig, language string, source []byte, out *[]Chunk) {
	if node == nil {
		return
	}

	if cfg.HasChunkOn(node.Kind()) {
		*out = append(*out, buildChunk(node, cfg, language, source))
	}

	// Always recurse into children, even after emitting: nested matches
	// (methods inside impl_item, inner classes, methods inside a
	// class_definition) produce additional chunks.
	count := node.ChildCount()
	for i := uint(0); i < count; i++ {
		walk(node.Child(i), cfg, language, source, out)
	}
}

func buildChunk(node *tree_sitter.Node, cfg LanguageConfig, language string, source []byte) Chunk {
	content := nodeText(node, source)

	comments := leadingComments(node, source)
	if len(comments) > 0 {
		content = strings.Join(comments, "\n") + "\n" + content
	}

	start := node.StartPosition()
	end := node.EndPosition()

	return Chunk{
		Content:    content,
		SymbolName: symbolName(node, language, source),
		SymbolKind: node.Kind(),
		StartLine:  int(start.Row) + 1,
		EndLine:    int(end.Row) + 1,
	}
}

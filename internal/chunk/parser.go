package chunk

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

// parserPool owns one tree_sitter.Parser per grammar. tree-sitter parsers
// are not safe for concurrent Parse calls, so each grammar's parser is
// guarded by its own mutex rather than sharing a single parser across
// languages.
type parserPool struct {
	mu       sync.Mutex
	registry *Registry
	parsers  map[string]*guardedParser
}

type guardedParser struct {
	mu     sync.Mutex
	parser *tree_sitter.Parser
}

func newParserPool(registry *Registry) *parserPool {
	return &parserPool{
		registry: registry,
		parsers:  make(map[string]*guardedParser),
	}
}

func (p *parserPool) forLanguage(languageName string) (*guardedParser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gp, ok := p.parsers[languageName]; ok {
		return gp, nil
	}

	cfg, ok := p.registry.Lookup(languageName)
	if !ok {
		return nil, claudevilerrors.New(
			claudevilerrors.ErrCodeUnknownGrammar,
			fmt.Sprintf("no grammar loaded for language %q", languageName),
			nil,
		)
	}

	lang, err := grammarForID(cfg.GrammarID)
	if err != nil {
		return nil, err
	}

	ts := tree_sitter.NewParser()
	if err := ts.SetLanguage(lang); err != nil {
		return nil, claudevilerrors.New(
			claudevilerrors.ErrCodeUnknownGrammar,
			fmt.Sprintf("failed to set parser language for %q: %v", languageName, err),
			err,
		)
	}

	gp := &guardedParser{parser: ts}
	p.parsers[languageName] = gp
	return gp, nil
}

// parse parses source under the named language and returns the resulting
// tree. The caller owns the returned tree and must call tree.Close().
func (gp *guardedParser) parse(source []byte) (*tree_sitter.Tree, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	tree := gp.parser.Parse(source, nil)
	if tree == nil {
		return nil, claudevilerrors.New(
			claudevilerrors.ErrCodeUnknownGrammar,
			"parser returned no tree",
			nil,
		)
	}
	return tree, nil
}

package chunk

import (
	"fmt"
	"sort"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	golang "github.com/tree-sitter/tree-sitter-go/bindings/go"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	rust "github.com/tree-sitter-grammars/tree-sitter-rust/bindings/go"

	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

// grammarFactories is the fixed, build-time set of compiled-in grammars.
// Adding a language requires adding an entry here, not a runtime plug-in.
var grammarFactories = map[string]func() *tree_sitter.Language{
	"go":     func() *tree_sitter.Language { return tree_sitter.NewLanguage(golang.Language()) },
	"rust":   func() *tree_sitter.Language { return tree_sitter.NewLanguage(rust.Language()) },
	"python": func() *tree_sitter.Language { return tree_sitter.NewLanguage(python.Language()) },
}

// DefaultChunkOn returns the built-in chunk_on node-kind set for a
// language name, or nil if the language has no built-in default.
func DefaultChunkOn(language string) []string {
	switch language {
	case "go":
		return []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
			"const_declaration",
			"var_declaration",
		}
	case "rust":
		return []string{
			"function_item",
			"impl_item",
			"struct_item",
			"enum_item",
			"trait_item",
			"mod_item",
			"const_item",
			"type_item",
			"static_item",
			"macro_definition",
		}
	case "python":
		return []string{
			"function_definition",
			"class_definition",
			"decorated_definition",
		}
	default:
		return nil
	}
}

// defaultExtension returns the built-in file extension for a language
// name, or "" if unknown.
func defaultExtension(language string) string {
	switch language {
	case "go":
		return "go"
	case "rust":
		return "rs"
	case "python":
		return "py"
	default:
		return ""
	}
}

// Registry is a language name → LanguageConfig map, plus a reverse index
// from extension to language name for fast lookup during indexing.
type Registry struct {
	byName      map[string]LanguageConfig
	byExtension map[string]string
}

// DefaultRegistry builds the registry with built-in defaults for go,
// rust, and python and no user overrides.
func DefaultRegistry() *Registry {
	r := &Registry{
		byName:      make(map[string]LanguageConfig),
		byExtension: make(map[string]string),
	}
	for _, name := range []string{"go", "rust", "python"} {
		r.set(LanguageConfig{
			Name:       name,
			Extensions: []string{defaultExtension(name)},
			GrammarID:  name,
			ChunkOn:    NewChunkOnSet(DefaultChunkOn(name)),
		})
	}
	return r
}

// NewRegistry validates and builds a registry from a set of language
// configs, e.g. as produced by merging user config over defaults.
// Unknown grammar names are fatal configuration errors.
func NewRegistry(configs []LanguageConfig) (*Registry, error) {
	r := &Registry{
		byName:      make(map[string]LanguageConfig),
		byExtension: make(map[string]string),
	}
	for _, cfg := range configs {
		if _, ok := grammarFactories[cfg.GrammarID]; !ok {
			return nil, claudevilerrors.New(
				claudevilerrors.ErrCodeUnknownGrammar,
				fmt.Sprintf("unknown grammar %q for language %q", cfg.GrammarID, cfg.Name),
				nil,
			)
		}
		if len(cfg.ChunkOn) == 0 {
			return nil, claudevilerrors.New(
				claudevilerrors.ErrCodeMissingChunkOn,
				fmt.Sprintf("language %q has no chunk_on node kinds configured", cfg.Name),
				nil,
			)
		}
		r.set(cfg)
	}
	return r, nil
}

func (r *Registry) set(cfg LanguageConfig) {
	r.byName[cfg.Name] = cfg
	for _, ext := range cfg.Extensions {
		r.byExtension[strings.ToLower(ext)] = cfg.Name
	}
}

// Lookup returns the language config for a name.
func (r *Registry) Lookup(name string) (LanguageConfig, bool) {
	cfg, ok := r.byName[name]
	return cfg, ok
}

// LanguageForExtension returns the language name routed to an extension
// (without the leading dot), or "" if none matches.
func (r *Registry) LanguageForExtension(ext string) (string, bool) {
	name, ok := r.byExtension[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return name, ok
}

// Names returns every configured language name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func grammarForID(id string) (*tree_sitter.Language, error) {
	factory, ok := grammarFactories[id]
	if !ok {
		return nil, claudevilerrors.New(
			claudevilerrors.ErrCodeUnknownGrammar,
			fmt.Sprintf("unknown grammar %q", id),
			nil,
		)
	}
	return factory(), nil
}

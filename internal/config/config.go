// Package config loads the per-language chunking configuration: which
// file extensions route to which tree-sitter grammar, and which AST node
// kinds within that grammar are extracted as chunks.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/cpcloud/claudevil/internal/chunk"
	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

// builtinLanguages is the set of language names with built-in defaults.
// A language outside this set must supply chunk_on explicitly.
var builtinLanguages = []string{"go", "rust", "python"}

// rawLangConfig mirrors the [lang.<name>] table shape in config.toml.
// An absent chunk_on key and an explicit empty list both leave ChunkOn
// empty, and validate falls back to the built-in default for either.
type rawLangConfig struct {
	Extensions []string `toml:"extensions"`
	Grammar    string   `toml:"grammar"`
	ChunkOn    []string `toml:"chunk_on,omitempty"`
}

type rawConfig struct {
	Lang map[string]rawLangConfig `toml:"lang"`
}

// Config is the fully resolved, validated chunking configuration: every
// entry in Lang has a non-empty ChunkOn, either supplied by the user or
// filled in from the built-in default for that language name.
type Config struct {
	Lang map[string]chunk.LanguageConfig
}

// Path returns the location of the user config file:
// $XDG_CONFIG_HOME/claudevil/config.toml, or ~/.config/claudevil/config.toml.
func Path() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "claudevil", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "claudevil", "config.toml")
	}
	return filepath.Join(home, ".config", "claudevil", "config.toml")
}

// Dir returns the directory containing the user config file.
func Dir() string {
	return filepath.Dir(Path())
}

// Load builds a Config from the built-in go/rust/python defaults,
// overlaid by the user's config.toml if one exists at Path(). A user
// entry for a language name replaces the built-in entry wholesale,
// except that an absent chunk_on still falls back to the built-in
// default for that name. Every resolved language must end up with a
// non-empty chunk_on or Load returns a fatal configuration error.
func Load() (*Config, error) {
	cfg := defaultConfig()

	path := Path()
	if _, err := os.Stat(path); err == nil {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to stat %s", path), err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromReader is like Load but reads the TOML overlay from raw bytes
// instead of the user's config file, for testing and for callers that
// already have the config content in hand.
func LoadFromReader(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if len(data) > 0 {
		var raw rawConfig
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, claudevilerrors.New(claudevilerrors.ErrCodeConfigInvalid,
				"invalid config", err)
		}
		applyOverlay(cfg, raw)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to read %s", path), err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return claudevilerrors.New(claudevilerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid config at %s", path), err)
	}

	applyOverlay(cfg, raw)
	return nil
}

// applyOverlay replaces cfg.Lang[name] with the user's entry for every
// language named in raw, leaving every other built-in entry untouched.
func applyOverlay(cfg *Config, raw rawConfig) {
	for name, lang := range raw.Lang {
		cfg.Lang[name] = chunk.LanguageConfig{
			Name:       name,
			Extensions: lang.Extensions,
			GrammarID:  lang.Grammar,
			ChunkOn:    chunk.NewChunkOnSet(lang.ChunkOn),
		}
	}
}

// validate fills in any still-missing chunk_on from built-in defaults and
// rejects languages that have neither a user-supplied chunk_on nor a
// built-in default.
func validate(cfg *Config) error {
	for name, lang := range cfg.Lang {
		if len(lang.ChunkOn) > 0 {
			continue
		}
		defaults := chunk.DefaultChunkOn(name)
		if len(defaults) == 0 {
			return claudevilerrors.New(claudevilerrors.ErrCodeMissingChunkOn,
				fmt.Sprintf("language %q has no chunk_on and no built-in defaults -- "+
					"add chunk_on to %s to specify which AST node kinds to extract", name, Path()),
				nil)
		}
		lang.ChunkOn = chunk.NewChunkOnSet(defaults)
		cfg.Lang[name] = lang
	}
	return nil
}

// defaultConfig returns the hardcoded go/rust/python defaults.
func defaultConfig() *Config {
	cfg := &Config{Lang: make(map[string]chunk.LanguageConfig, len(builtinLanguages))}
	for _, name := range builtinLanguages {
		cfg.Lang[name] = chunk.LanguageConfig{
			Name:       name,
			Extensions: []string{defaultExtensionFor(name)},
			GrammarID:  name,
			ChunkOn:    chunk.NewChunkOnSet(chunk.DefaultChunkOn(name)),
		}
	}
	return cfg
}

func defaultExtensionFor(name string) string {
	switch name {
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

// LanguageForExtension returns the language name and config routed to an
// extension (without the leading dot), or false if none matches.
func (c *Config) LanguageForExtension(ext string) (chunk.LanguageConfig, bool) {
	ext = trimLeadingDot(ext)
	for _, lang := range c.Lang {
		for _, e := range lang.Extensions {
			if e == ext {
				return lang, true
			}
		}
	}
	return chunk.LanguageConfig{}, false
}

func trimLeadingDot(ext string) string {
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}

// LanguageNames returns every configured language name in sorted order.
func (c *Config) LanguageNames() []string {
	names := make([]string, 0, len(c.Lang))
	for name := range c.Lang {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry builds a chunk.Registry from the resolved config, validating
// every language's grammar ID against the compiled-in grammar set.
func (c *Config) Registry() (*chunk.Registry, error) {
	configs := make([]chunk.LanguageConfig, 0, len(c.Lang))
	for _, lang := range c.Lang {
		configs = append(configs, lang)
	}
	return chunk.NewRegistry(configs)
}

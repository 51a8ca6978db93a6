package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

func TestDefaultConfig_HasThreeLanguages(t *testing.T) {
	cfg := defaultConfig()
	assert.Len(t, cfg.Lang, 3)
	assert.Contains(t, cfg.Lang, "go")
	assert.Contains(t, cfg.Lang, "rust")
	assert.Contains(t, cfg.Lang, "python")
}

func TestLoadFromReader_NoOverlayUsesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(nil)
	require.NoError(t, err)
	assert.Len(t, cfg.Lang, 3)

	goCfg, ok := cfg.Lang["go"]
	require.True(t, ok)
	assert.True(t, goCfg.HasChunkOn("function_declaration"))
	assert.True(t, goCfg.HasChunkOn("method_declaration"))
	assert.True(t, goCfg.HasChunkOn("type_declaration"))
}

func TestLanguageForExtension_Go(t *testing.T) {
	cfg := defaultConfig()
	lang, ok := cfg.LanguageForExtension("go")
	require.True(t, ok)
	assert.Equal(t, "go", lang.Name)
	assert.Equal(t, "go", lang.GrammarID)
}

func TestLanguageForExtension_Rust(t *testing.T) {
	cfg := defaultConfig()
	lang, ok := cfg.LanguageForExtension("rs")
	require.True(t, ok)
	assert.Equal(t, "rust", lang.Name)
}

func TestLanguageForExtension_Python(t *testing.T) {
	cfg := defaultConfig()
	lang, ok := cfg.LanguageForExtension("py")
	require.True(t, ok)
	assert.Equal(t, "python", lang.Name)
}

func TestLanguageForExtension_LeadingDotIsTrimmed(t *testing.T) {
	cfg := defaultConfig()
	lang, ok := cfg.LanguageForExtension(".go")
	require.True(t, ok)
	assert.Equal(t, "go", lang.Name)
}

func TestLanguageForExtension_Unknown(t *testing.T) {
	cfg := defaultConfig()
	_, ok := cfg.LanguageForExtension("js")
	assert.False(t, ok)
}

func TestLoadFromReader_TOMLOverlayWithChunkOn(t *testing.T) {
	raw := []byte(`
[lang.typescript]
extensions = ["ts", "tsx"]
grammar = "typescript"
chunk_on = ["function_declaration", "class_declaration"]
`)
	cfg, err := LoadFromReader(raw)
	require.NoError(t, err)

	ts, ok := cfg.Lang["typescript"]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"ts", "tsx"}, ts.Extensions)
	assert.Equal(t, "typescript", ts.GrammarID)
	assert.True(t, ts.HasChunkOn("function_declaration"))
	assert.True(t, ts.HasChunkOn("class_declaration"))

	// Built-in languages are untouched by an overlay that doesn't name them.
	assert.Contains(t, cfg.Lang, "go")
	assert.Contains(t, cfg.Lang, "rust")
	assert.Contains(t, cfg.Lang, "python")
}

func TestLoadFromReader_OverlayWithoutChunkOnFallsBackToDefault(t *testing.T) {
	raw := []byte(`
[lang.go]
extensions = ["go"]
grammar = "go"
`)
	cfg, err := LoadFromReader(raw)
	require.NoError(t, err)

	goCfg := cfg.Lang["go"]
	assert.True(t, goCfg.HasChunkOn("function_declaration"))
	assert.True(t, goCfg.HasChunkOn("method_declaration"))
	assert.True(t, goCfg.HasChunkOn("type_declaration"))
	assert.True(t, goCfg.HasChunkOn("const_declaration"))
	assert.True(t, goCfg.HasChunkOn("var_declaration"))
}

func TestLoadFromReader_UnknownLanguageWithoutChunkOnIsFatal(t *testing.T) {
	raw := []byte(`
[lang.haskell]
extensions = ["hs"]
grammar = "haskell"
`)
	_, err := LoadFromReader(raw)
	require.Error(t, err)
	assert.Equal(t, claudevilerrors.ErrCodeMissingChunkOn, claudevilerrors.GetCode(err))
}

func TestLoadFromReader_InvalidTOMLIsConfigError(t *testing.T) {
	_, err := LoadFromReader([]byte("not valid toml {{{"))
	require.Error(t, err)
	assert.Equal(t, claudevilerrors.ErrCodeConfigInvalid, claudevilerrors.GetCode(err))
}

func TestLanguageNames_Sorted(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, []string{"go", "python", "rust"}, cfg.LanguageNames())
}

func TestConfig_Registry_BuildsFromResolvedLanguages(t *testing.T) {
	cfg := defaultConfig()
	reg, err := cfg.Registry()
	require.NoError(t, err)

	goCfg, ok := reg.Lookup("go")
	require.True(t, ok)
	assert.Equal(t, "go", goCfg.GrammarID)
}

func TestConfig_Registry_UnknownGrammarIsFatal(t *testing.T) {
	raw := []byte(`
[lang.cobol]
extensions = ["cob"]
grammar = "cobol"
chunk_on = ["paragraph"]
`)
	cfg, err := LoadFromReader(raw)
	require.NoError(t, err)

	_, err = cfg.Registry()
	require.Error(t, err)
	assert.Equal(t, claudevilerrors.ErrCodeUnknownGrammar, claudevilerrors.GetCode(err))
}

func TestPath_RespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	assert.Equal(t, "/tmp/xdgtest/claudevil/config.toml", Path())
}

func TestDir_IsParentOfPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	assert.Equal(t, "/tmp/xdgtest/claudevil", Dir())
}

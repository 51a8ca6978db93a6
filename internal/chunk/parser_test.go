package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserPool_ForLanguage_CachesParser(t *testing.T) {
	pool := newParserPool(DefaultRegistry())

	first, err := pool.forLanguage("go")
	require.NoError(t, err)

	second, err := pool.forLanguage("go")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestParserPool_ForLanguage_UnknownLanguage(t *testing.T) {
	pool := newParserPool(DefaultRegistry())

	_, err := pool.forLanguage("haskell")
	assert.Error(t, err)
}

func TestParserPool_Parse_AllBuiltinLanguages(t *testing.T) {
	sources := map[string]string{
		"go":     "package main\nfunc main() {}\n",
		"rust":   "fn main() {}\n",
		"python": "def main():\n    pass\n",
	}

	pool := newParserPool(DefaultRegistry())
	for lang, src := range sources {
		gp, err := pool.forLanguage(lang)
		require.NoError(t, err)

		tree, err := gp.parse([]byte(src))
		require.NoError(t, err)
		require.NotNil(t, tree.RootNode())
		tree.Close()
	}
}

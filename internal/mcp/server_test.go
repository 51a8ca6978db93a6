package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpcloud/claudevil/internal/chunk"
	"github.com/cpcloud/claudevil/internal/config"
	"github.com/cpcloud/claudevil/internal/embed"
	"github.com/cpcloud/claudevil/internal/indexer"
	"github.com/cpcloud/claudevil/internal/store"
)

const testDim = 4

// fakeEmbedder returns a fixed vector for every input, regardless of
// text, which is enough to exercise the search plumbing without a real
// model on disk.
type fakeEmbedder struct{ vec []float32 }

func (f fakeEmbedder) Dimensions() int   { return len(f.vec) }
func (f fakeEmbedder) ModelName() string { return "fake" }
func (f fakeEmbedder) Close() error      { return nil }

func (f fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func strPtr(s string) *string { return &s }

func makeRow(filePath string, chunkID int, symbolName, kind string, vec []float32) chunk.Row {
	return chunk.Row{
		Chunk: chunk.Chunk{
			Content:    "body of " + symbolName,
			SymbolName: strPtr(symbolName),
			SymbolKind: kind,
			StartLine:  1,
			EndLine:    3,
		},
		FilePath:     filePath,
		ChunkID:      chunkID,
		Language:     "go",
		LastModified: 100,
		Vector:       vec,
	}
}

func newTestServer(t *testing.T) (*Server, *store.Store, embed.Embedder) {
	t.Helper()

	root := t.TempDir()
	st, err := store.Open(t.TempDir(), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb := fakeEmbedder{vec: []float32{1, 0, 0, 0}}

	cfg, err := config.LoadFromReader(nil)
	require.NoError(t, err)
	registry, err := cfg.Registry()
	require.NoError(t, err)
	ix := indexer.New(emb, st, chunk.New(registry), cfg)

	srv, err := NewServer(emb, st, ix, root, "")
	require.NoError(t, err)

	return srv, st, emb
}

func TestNewServer_RequiresEmbedder(t *testing.T) {
	st, err := store.Open(t.TempDir(), testDim)
	require.NoError(t, err)
	defer st.Close()

	_, err = NewServer(nil, st, nil, t.TempDir(), "")
	assert.Error(t, err)
}

func TestNewServer_RequiresStore(t *testing.T) {
	emb := fakeEmbedder{vec: []float32{1, 0, 0, 0}}
	_, err := NewServer(emb, nil, nil, t.TempDir(), "")
	assert.Error(t, err)
}

func TestHandleSearch_EmptyQueryIsInvalidParams(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, _, err := srv.handleSearch(context.Background(), nil, SearchInput{Query: "  "})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleSearch_ReturnsFormattedResults(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, []chunk.Row{
		makeRow("a.go", 0, "Hello", "function_declaration", []float32{1, 0, 0, 0}),
	}))

	_, out, err := srv.handleSearch(ctx, nil, SearchInput{Query: "greet"})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "a.go:1-3")
	assert.Contains(t, out.Text, "function_declaration Hello")
	assert.Contains(t, out.Text, "body of Hello")
}

func TestHandleFindSymbol_OmitsDistance(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, []chunk.Row{
		makeRow("a.go", 0, "HandleRequest", "function_declaration", []float32{1, 0, 0, 0}),
	}))

	_, out, err := srv.handleFindSymbol(ctx, nil, FindSymbolInput{Name: "handle"})
	require.NoError(t, err)
	assert.Contains(t, out.Text, "HandleRequest")
	assert.NotContains(t, out.Text, "[")
}

func TestHandleFindSymbol_EmptyNameIsInvalidParams(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, _, err := srv.handleFindSymbol(context.Background(), nil, FindSymbolInput{Name: ""})
	require.Error(t, err)
}

func TestHandleListFiles_ReturnsDistinctSortedPaths(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, []chunk.Row{
		makeRow("b.go", 0, "B", "function_declaration", []float32{0, 1, 0, 0}),
		makeRow("a.go", 0, "A", "function_declaration", []float32{1, 0, 0, 0}),
	}))

	_, out, err := srv.handleListFiles(ctx, nil, ListFilesInput{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, out.Files)
}

func TestHandleReadFile_ReadsWithinRoot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(srv.root, "hello.go"), []byte("package main\n"), 0o644))

	_, out, err := srv.handleReadFile(context.Background(), nil, ReadFileInput{Path: "hello.go"})
	require.NoError(t, err)
	assert.Equal(t, "package main\n", out.Content)
}

func TestHandleReadFile_RejectsPathTraversal(t *testing.T) {
	srv, _, _ := newTestServer(t)

	outsideDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outsideDir, "secret.txt"), []byte("nope"), 0o644))

	rel, err := filepath.Rel(srv.root, filepath.Join(outsideDir, "secret.txt"))
	require.NoError(t, err)

	_, _, err = srv.handleReadFile(context.Background(), nil, ReadFileInput{Path: rel})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodePathTraversal, mcpErr.Code)
}

func TestHandleReadFile_MissingFileIsNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, _, err := srv.handleReadFile(context.Background(), nil, ReadFileInput{Path: "missing.go"})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeFileNotFound, mcpErr.Code)
}

func TestHandleReindex_StartsBackgroundIndexer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(srv.root, "main.go"), []byte("package main\n\nfunc F() {}\n"), 0o644))

	_, out, err := srv.handleReindex(context.Background(), nil, ReindexInput{})
	require.NoError(t, err)
	assert.True(t, out.Started)

	deadline := time.Now().Add(2 * time.Second)
	for srv.bg.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, srv.bg.IsRunning())
}

func TestHandleIndexStatus_ReportsRootAndChunkCount(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.Insert(ctx, []chunk.Row{
		makeRow("a.go", 0, "A", "function_declaration", []float32{1, 0, 0, 0}),
	}))

	_, out, err := srv.handleIndexStatus(ctx, nil, IndexStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, srv.root, out.Root)
	assert.Equal(t, 1, out.ChunkCount)
	assert.False(t, out.Indexing)
}

func TestFormatResults_EmptyResultsMessage(t *testing.T) {
	assert.Equal(t, "No results found.", formatResults(nil, true))
}

func TestFormatResults_DistanceShownOnlyWhenRequested(t *testing.T) {
	results := []store.Result{{
		FilePath:   "a.go",
		StartLine:  1,
		EndLine:    2,
		SymbolKind: "function_declaration",
		SymbolName: strPtr("F"),
		Content:    "func F() {}",
		Distance:   0.25,
	}}

	withDist := formatResults(results, true)
	assert.Contains(t, withDist, "[0.2500]")

	withoutDist := formatResults(results, false)
	assert.NotContains(t, withoutDist, "[0.2500]")
}

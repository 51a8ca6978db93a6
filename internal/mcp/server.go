// Package mcp exposes claudevil's search/index tools over the Model
// Context Protocol (MCP), bridging AI clients like Claude Code with the
// embedding-backed code index.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cpcloud/claudevil/internal/async"
	"github.com/cpcloud/claudevil/internal/embed"
	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
	"github.com/cpcloud/claudevil/internal/indexer"
	"github.com/cpcloud/claudevil/internal/store"
	"github.com/cpcloud/claudevil/pkg/version"
)

const defaultSearchLimit = 10
const defaultSymbolLimit = 20

// readCacheSize and symbolCacheSize bound the per-server LRU caches
// fronting read_file and find_symbol, guarding against pathological
// repeated tool calls during a single session without growing memory
// unboundedly. Both are invalidated wholesale on reindex.
const readCacheSize = 256
const symbolCacheSize = 128

// Server is the MCP tool server for claudevil. It holds shared handles
// to the embedder, the vector store, and the project root, and exposes
// search and indexing as MCP tools.
type Server struct {
	mcp      *mcp.Server
	embedder embed.Embedder
	store    *store.Store
	indexer  *indexer.Indexer
	root     string
	logger   *slog.Logger

	bg          *async.BackgroundIndexer
	readCache   *lru.Cache[string, string]
	symbolCache *lru.Cache[string, []store.Result]
}

// NewServer builds a Server bound to root, using st for reads and
// indexer for reindex requests. dataDir is where the background
// indexer's advisory lock file is written (the store's directory).
func NewServer(embedder embed.Embedder, st *store.Store, ix *indexer.Indexer, root, dataDir string) (*Server, error) {
	if embedder == nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInternal, "embedder is required", nil)
	}
	if st == nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInternal, "store is required", nil)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeFileRead, fmt.Sprintf("failed to resolve root %s", root), err)
	}

	lockDir := dataDir
	if lockDir == "" {
		lockDir = absRoot
	}

	readCache, err := lru.New[string, string](readCacheSize)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInternal, "failed to create read cache", err)
	}
	symbolCache, err := lru.New[string, []store.Result](symbolCacheSize)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInternal, "failed to create symbol cache", err)
	}

	s := &Server{
		embedder:    embedder,
		store:       st,
		indexer:     ix,
		root:        absRoot,
		logger:      slog.Default(),
		bg:          async.NewBackgroundIndexer(async.IndexerConfig{DataDir: lockDir}),
		readCache:   readCache,
		symbolCache: symbolCache,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "claudevil", Version: version.Version},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}

// --- tool input/output schemas ---

type SearchInput struct {
	Query    string `json:"query" jsonschema:"natural-language or code search query"`
	Language string `json:"language,omitempty" jsonschema:"filter results to this language (e.g. go, rust, python)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

type FindSimilarInput struct {
	Code     string `json:"code" jsonschema:"a code snippet to find semantically similar chunks for"`
	Language string `json:"language,omitempty" jsonschema:"filter results to this language"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

type FindSymbolInput struct {
	Name  string `json:"name" jsonschema:"substring to match against symbol names, case-insensitive"`
	Kind  string `json:"kind,omitempty" jsonschema:"exact AST node kind to filter by (e.g. function_declaration)"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
}

type ListFilesInput struct {
	Language string `json:"language,omitempty" jsonschema:"filter to files of this language"`
}

type ReadFileInput struct {
	Path string `json:"path" jsonschema:"file path relative to the project root"`
}

type ReindexInput struct{}

type IndexStatusInput struct{}

// TextOutput wraps a single formatted text payload, the shape every
// search-like tool returns.
type TextOutput struct {
	Text string `json:"text"`
}

type ListFilesOutput struct {
	Files []string `json:"files"`
}

type ReadFileOutput struct {
	Content string `json:"content"`
}

type ReindexOutput struct {
	Started bool `json:"started"`
}

type IndexStatusOutput struct {
	Root           string `json:"root"`
	ChunkCount     int    `json:"chunk_count"`
	Indexing       bool   `json:"indexing"`
	Stage          string `json:"stage,omitempty"`
	FilesProcessed int    `json:"files_processed,omitempty"`
	ChunksIndexed  int    `json:"chunks_indexed,omitempty"`
}

// --- tool registration ---

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the indexed codebase by meaning. Embeds the query and returns the nearest chunks by cosine distance.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_similar",
		Description: "Find chunks semantically similar to a given code snippet.",
	}, s.handleFindSimilar)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_symbol",
		Description: "Find chunks by symbol name, with an optional exact AST node-kind filter.",
	}, s.handleFindSymbol)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_files",
		Description: "List every indexed file path, optionally filtered by language.",
	}, s.handleListFiles)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "read_file",
		Description: "Read a file's full contents by project-relative path.",
	}, s.handleReadFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex",
		Description: "Re-walk the project root and rebuild the index in the background. Returns immediately.",
	}, s.handleReindex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report the project root, total chunk count, and whether indexing is in progress.",
	}, s.handleIndexStatus)
}

// --- handlers ---

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, TextOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, TextOutput{}, NewInvalidParamsError("query is required")
	}

	vec, err := s.embedder.Embed(ctx, input.Query)
	if err != nil {
		return nil, TextOutput{}, MapError(err)
	}

	results, err := s.store.Search(ctx, vec, limitOrDefault(input.Limit, defaultSearchLimit), optionalString(input.Language))
	if err != nil {
		return nil, TextOutput{}, MapError(err)
	}

	return nil, TextOutput{Text: formatResults(results, true)}, nil
}

func (s *Server) handleFindSimilar(ctx context.Context, _ *mcp.CallToolRequest, input FindSimilarInput) (*mcp.CallToolResult, TextOutput, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, TextOutput{}, NewInvalidParamsError("code is required")
	}

	vec, err := s.embedder.Embed(ctx, input.Code)
	if err != nil {
		return nil, TextOutput{}, MapError(err)
	}

	results, err := s.store.Search(ctx, vec, limitOrDefault(input.Limit, defaultSearchLimit), optionalString(input.Language))
	if err != nil {
		return nil, TextOutput{}, MapError(err)
	}

	return nil, TextOutput{Text: formatResults(results, true)}, nil
}

func (s *Server) handleFindSymbol(ctx context.Context, _ *mcp.CallToolRequest, input FindSymbolInput) (*mcp.CallToolResult, TextOutput, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, TextOutput{}, NewInvalidParamsError("name is required")
	}

	limit := limitOrDefault(input.Limit, defaultSymbolLimit)
	cacheKey := fmt.Sprintf("%s\x00%s\x00%d", input.Name, input.Kind, limit)
	if cached, ok := s.symbolCache.Get(cacheKey); ok {
		return nil, TextOutput{Text: formatResults(cached, false)}, nil
	}

	results, err := s.store.FindBySymbol(ctx, input.Name, optionalString(input.Kind), limit)
	if err != nil {
		return nil, TextOutput{}, MapError(err)
	}
	s.symbolCache.Add(cacheKey, results)

	return nil, TextOutput{Text: formatResults(results, false)}, nil
}

func (s *Server) handleListFiles(ctx context.Context, _ *mcp.CallToolRequest, input ListFilesInput) (*mcp.CallToolResult, ListFilesOutput, error) {
	files, err := s.store.ListFiles(ctx, optionalString(input.Language))
	if err != nil {
		return nil, ListFilesOutput{}, MapError(err)
	}
	return nil, ListFilesOutput{Files: files}, nil
}

func (s *Server) handleReadFile(_ context.Context, _ *mcp.CallToolRequest, input ReadFileInput) (*mcp.CallToolResult, ReadFileOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, ReadFileOutput{}, NewInvalidParamsError("path is required")
	}

	content, err := s.readFileSafe(input.Path)
	if err != nil {
		return nil, ReadFileOutput{}, MapError(err)
	}
	return nil, ReadFileOutput{Content: content}, nil
}

// readFileSafe resolves path against the project root and rejects any
// result whose canonical form escapes the canonicalized root. This check
// is load-bearing: without it a path like "../../etc/passwd" would read
// outside the project.
func (s *Server) readFileSafe(path string) (string, error) {
	if cached, ok := s.readCache.Get(path); ok {
		return cached, nil
	}

	content, err := s.readFileSafeUncached(path)
	if err != nil {
		return "", err
	}
	s.readCache.Add(path, content)
	return content, nil
}

func (s *Server) readFileSafeUncached(path string) (string, error) {
	joined := filepath.Join(s.root, path)

	canonicalRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", claudevilerrors.New(claudevilerrors.ErrCodeFileRead, fmt.Sprintf("failed to resolve root %s", s.root), err)
	}

	canonicalPath, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", claudevilerrors.New(claudevilerrors.ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path), err)
		}
		return "", claudevilerrors.New(claudevilerrors.ErrCodeFileRead, fmt.Sprintf("failed to resolve %s", path), err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", claudevilerrors.New(claudevilerrors.ErrCodePathTraversal,
			fmt.Sprintf("path %q escapes project root", path), nil)
	}

	data, err := os.ReadFile(canonicalPath)
	if err != nil {
		return "", claudevilerrors.New(claudevilerrors.ErrCodeFileRead, fmt.Sprintf("failed to read %s", path), err)
	}
	return string(data), nil
}

func (s *Server) handleReindex(ctx context.Context, _ *mcp.CallToolRequest, _ ReindexInput) (*mcp.CallToolResult, ReindexOutput, error) {
	if s.indexer == nil {
		return nil, ReindexOutput{}, NewInvalidParamsError("reindex is not available")
	}
	if s.bg.IsRunning() {
		return nil, ReindexOutput{Started: false}, nil
	}

	root := s.root
	s.bg.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		if err := s.indexer.IndexDirectoryWithProgress(ctx, root, progress); err != nil {
			return err
		}
		s.readCache.Purge()
		s.symbolCache.Purge()
		return nil
	}
	s.bg.Start(ctx)

	return nil, ReindexOutput{Started: true}, nil
}

func (s *Server) handleIndexStatus(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, IndexStatusOutput, error) {
	count, err := s.store.ChunkCount(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	snap := s.bg.Progress().Snapshot()
	return nil, IndexStatusOutput{
		Root:           s.root,
		ChunkCount:     count,
		Indexing:       s.bg.IsRunning(),
		Stage:          snap.Stage,
		FilesProcessed: snap.FilesProcessed,
		ChunksIndexed:  snap.ChunksIndexed,
	}, nil
}

// --- formatting & small helpers ---

// formatResults renders results in the standard section format:
// "## {path}:{start}-{end} ({kind} {name}) [dist]\n```\n{content}\n```\n"
// with the distance suffix included only for similarity queries.
func formatResults(results []store.Result, showDistance bool) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for _, r := range results {
		name := ""
		if r.SymbolName != nil {
			name = *r.SymbolName
		}
		header := fmt.Sprintf("## %s:%d-%d (%s %s)", r.FilePath, r.StartLine, r.EndLine, r.SymbolKind, name)
		if showDistance {
			header += fmt.Sprintf(" [%.4f]", r.Distance)
		}
		b.WriteString(header)
		b.WriteString("\n```\n")
		b.WriteString(r.Content)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func limitOrDefault(limit, def int) int {
	if limit > 0 {
		return limit
	}
	return def
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

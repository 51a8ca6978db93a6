// Command claudevil starts a semantic code search MCP server for a single
// project directory. It has no subcommands and no flags: it takes the
// project root as its only positional argument, defaulting to the current
// working directory, and serves the Model Context Protocol over stdio.
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cpcloud/claudevil/internal/async"
	"github.com/cpcloud/claudevil/internal/chunk"
	"github.com/cpcloud/claudevil/internal/config"
	"github.com/cpcloud/claudevil/internal/embed"
	"github.com/cpcloud/claudevil/internal/indexer"
	"github.com/cpcloud/claudevil/internal/logging"
	"github.com/cpcloud/claudevil/internal/mcp"
	"github.com/cpcloud/claudevil/internal/store"
	"github.com/cpcloud/claudevil/pkg/version"
)

func main() {
	logger := logging.SetupFromEnv()

	if err := run(logger); err != nil {
		logger.Error("claudevil exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot()
	if err != nil {
		return err
	}
	logger.Info("claudevil starting", slog.String("root", root), slog.String("version", version.Version))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	registry, err := cfg.Registry()
	if err != nil {
		return fmt.Errorf("building language registry: %w", err)
	}
	chunker := chunk.New(registry)

	dataDir, err := dataDirFor(root)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	if async.HasIncompleteLock(dataDir) {
		logger.Warn("previous indexing run did not complete cleanly", slog.String("data_dir", dataDir))
	}

	logger.Info("loading embedding model...")
	embedder, err := embed.NewONNXEmbedder(modelDir(), os.Getenv("CLAUDEVIL_ORT_LIB_PATH"), 0)
	if err != nil {
		return fmt.Errorf("loading embedding model: %w", err)
	}
	defer embedder.Close()
	logger.Info("embedding model ready", slog.String("model", embedder.ModelName()))

	st, err := store.Open(dataDir, embedder.Dimensions())
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer st.Close()

	ix := indexer.New(embedder, st, chunker, cfg)

	// Index in the background so the MCP server is available immediately.
	go func() {
		if err := ix.IndexDirectory(ctx, root); err != nil {
			logger.Error("initial indexing failed", slog.String("error", err.Error()))
		}
	}()

	srv, err := mcp.NewServer(embedder, st, ix, root, dataDir)
	if err != nil {
		return fmt.Errorf("starting MCP server: %w", err)
	}
	defer srv.Close()

	logger.Info("MCP server starting on stdio")
	return srv.Serve(ctx)
}

// resolveRoot returns the canonical project root: the single positional
// argument if given, otherwise the current working directory.
func resolveRoot() (string, error) {
	arg := "."
	if len(os.Args) > 1 {
		arg = os.Args[1]
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", arg, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", abs, err)
	}
	return resolved, nil
}

// dataDirFor returns the platform data directory for root's index:
// {user_cache_dir}/claudevil/{basename}-{8hex-hash-of-root}/.
func dataDirFor(root string) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "claudevil", dirNameFor(root)), nil
}

// dirNameFor builds a collision-resistant, human-readable directory name
// from root: its basename plus an 8-hex-digit fnv-32a hash of the full
// absolute path, so two different roots sharing a basename don't collide.
func dirNameFor(root string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(root))
	name := filepath.Base(root)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "root"
	}
	return fmt.Sprintf("%s-%08x", name, h.Sum32())
}

// modelDir resolves the directory containing model.onnx and
// tokenizer.json, overridable via CLAUDEVIL_MODEL_DIR for development and
// air-gapped deployments. It defaults to a fixed location under the user
// cache directory, where the model is expected to have been fetched once
// ahead of time.
func modelDir() string {
	if dir := os.Getenv("CLAUDEVIL_MODEL_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "claudevil", "models", "all-MiniLM-L6-v2")
}

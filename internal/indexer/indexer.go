// Package indexer walks a project directory, chunks every recognized
// source file, embeds the chunks, and stores them in a vector store.
package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cpcloud/claudevil/internal/async"
	"github.com/cpcloud/claudevil/internal/chunk"
	"github.com/cpcloud/claudevil/internal/config"
	"github.com/cpcloud/claudevil/internal/embed"
	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
	"github.com/cpcloud/claudevil/internal/store"
)

// BatchSize is the maximum number of chunks embedded and inserted in a
// single round trip. Keeping this bounded caps peak memory during a
// large initial index.
const BatchSize = 64

// Indexer walks a directory, chunks source files with a Chunker, embeds
// the chunks with an Embedder, and stores them in a Store.
type Indexer struct {
	embedder embed.Embedder
	store    *store.Store
	chunker  *chunk.Chunker
	config   *config.Config
}

// New builds an Indexer from its collaborators.
func New(embedder embed.Embedder, st *store.Store, chunker *chunk.Chunker, cfg *config.Config) *Indexer {
	return &Indexer{embedder: embedder, store: st, chunker: chunker, config: cfg}
}

type pendingChunk struct {
	filePath     string
	chunkID      int
	content      string
	symbolName   *string
	symbolKind   string
	language     string
	startLine    int
	endLine      int
	lastModified int64
}

// IndexDirectory walks every file under root, chunks and embeds the ones
// whose extension maps to a configured language, and stores the result.
// It reports no progress; see IndexDirectoryWithProgress for a variant
// that does.
func (ix *Indexer) IndexDirectory(ctx context.Context, root string) error {
	return ix.IndexDirectoryWithProgress(ctx, root, nil)
}

// IndexDirectoryWithProgress is IndexDirectory with live stage and count
// reporting through progress, so a caller running it in the background
// (async.BackgroundIndexer) can surface what it's doing. progress may be
// nil, in which case updates are simply discarded.
//
// Hidden files and directories below root (names starting with ".") are
// skipped, a hidden directory together with all its contents. Symlinked
// directories are followed, with a visited-inode guard against symlink
// cycles. A file that fails to read or chunk is logged and skipped; the
// walk continues.
func (ix *Indexer) IndexDirectoryWithProgress(ctx context.Context, root string, progress *async.IndexProgress) error {
	if progress == nil {
		progress = async.NewIndexProgress()
	}

	var pending []pendingChunk
	filesProcessed := 0
	chunksTotal := 0
	chunksIndexed := 0

	progress.SetStage(async.StageScanning, 0)

	visited := make(map[visitedDir]bool)
	err := walkDirEntries(root, visited, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("walk error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		lang, ok := ix.config.LanguageForExtension(filepath.Ext(path))
		if !ok {
			return nil
		}

		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			relPath = path
		}
		progress.SetStage(async.StageChunking, filesProcessed+1)
		progress.SetCurrentFile(filepath.ToSlash(relPath))

		chunks, err := ix.collectFileChunks(ctx, path, root, lang.Name)
		if err != nil {
			slog.Warn("failed to chunk file", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		filesProcessed++
		progress.UpdateFiles(filesProcessed)
		progress.AddLanguageChunks(lang.Name, len(chunks))

		pending = append(pending, chunks...)
		chunksTotal += len(chunks)
		progress.SetChunksTotal(chunksTotal)

		if len(pending) >= BatchSize {
			progress.SetStage(async.StageEmbedding, filesProcessed)
			n := len(pending)
			if err := ix.flushBatch(ctx, &pending); err != nil {
				return err
			}
			chunksIndexed += n
			progress.UpdateChunks(chunksIndexed)
		}
		return nil
	})
	if err != nil {
		return claudevilerrors.Wrap(claudevilerrors.ErrCodeFileRead, err)
	}

	if len(pending) > 0 {
		progress.SetStage(async.StageEmbedding, filesProcessed)
		n := len(pending)
		if err := ix.flushBatch(ctx, &pending); err != nil {
			return err
		}
		chunksIndexed += n
		progress.UpdateChunks(chunksIndexed)
	}

	progress.SetStage(async.StageIndexing, filesProcessed)
	count, err := ix.store.ChunkCount(ctx)
	if err != nil {
		return err
	}
	slog.Info("indexing complete", slog.Int("chunks", count))
	return nil
}

// collectFileChunks reads and chunks a single file, deleting any chunks
// already stored for it first so a re-index never leaves stale entries
// from a shrunk or renamed symbol behind.
func (ix *Indexer) collectFileChunks(ctx context.Context, path, root, languageName string) ([]pendingChunk, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeFileRead,
			fmt.Sprintf("failed to read %s", path), err)
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}
	relPath = filepath.ToSlash(relPath)

	var lastModified int64
	if info, err := os.Stat(path); err == nil {
		lastModified = info.ModTime().Unix()
	}

	if err := ix.store.DeleteFile(ctx, relPath); err != nil {
		return nil, err
	}

	chunks, err := ix.chunker.Chunk(content, languageName)
	if err != nil {
		return nil, err
	}
	slog.Debug("chunked file", slog.String("path", relPath), slog.Int("chunks", len(chunks)), slog.String("language", languageName))

	pending := make([]pendingChunk, len(chunks))
	for i, c := range chunks {
		pending[i] = pendingChunk{
			filePath:     relPath,
			chunkID:      i,
			content:      c.Content,
			symbolName:   c.SymbolName,
			symbolKind:   c.SymbolKind,
			language:     languageName,
			startLine:    c.StartLine,
			endLine:      c.EndLine,
			lastModified: lastModified,
		}
	}
	return pending, nil
}

// flushBatch embeds and inserts the accumulated pending chunks, then
// resets the slice to length zero so the caller's backing array is
// reused for the next batch.
func (ix *Indexer) flushBatch(ctx context.Context, pending *[]pendingChunk) error {
	batch := *pending
	*pending = (*pending)[:0]
	if len(batch) == 0 {
		return nil
	}

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	rows := make([]chunk.Row, len(batch))
	for i, p := range batch {
		rows[i] = chunk.Row{
			Chunk: chunk.Chunk{
				Content:    p.content,
				SymbolName: p.symbolName,
				SymbolKind: p.symbolKind,
				StartLine:  p.startLine,
				EndLine:    p.endLine,
			},
			FilePath:     p.filePath,
			ChunkID:      p.chunkID,
			Language:     p.language,
			LastModified: p.lastModified,
			Vector:       vectors[i],
		}
	}

	return ix.store.Insert(ctx, rows)
}

// visitedDir identifies a directory by device and inode, independent of
// the path used to reach it, so a symlink that loops back on an ancestor
// directory can be detected even though its path looks new.
type visitedDir struct {
	dev uint64
	ino uint64
}

func dirKeyOf(info os.FileInfo) (visitedDir, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return visitedDir{}, false
	}
	return visitedDir{dev: uint64(st.Dev), ino: st.Ino}, true
}

// walkDirEntries walks path depth-first like filepath.WalkDir, except
// that a symlinked directory is followed rather than reported as an
// opaque leaf. Every directory reached, the starting one included, is
// keyed by device and inode and recorded in visited; a directory already
// in visited is skipped, which breaks symlink cycles.
func walkDirEntries(path string, visited map[visitedDir]bool, fn func(path string, d fs.DirEntry, err error) error) error {
	lst, err := os.Lstat(path)
	if err != nil {
		return fn(path, nil, err)
	}

	info := os.FileInfo(lst)
	if lst.Mode()&os.ModeSymlink != 0 {
		target, err := os.Stat(path)
		if err != nil {
			return fn(path, fs.FileInfoToDirEntry(lst), err)
		}
		if !target.IsDir() {
			return fn(path, fs.FileInfoToDirEntry(lst), nil)
		}
		info = target
	}

	d := fs.FileInfoToDirEntry(info)
	if !info.IsDir() {
		return fn(path, d, nil)
	}
	if key, ok := dirKeyOf(info); ok {
		if visited[key] {
			return nil
		}
		visited[key] = true
	}

	if err := fn(path, d, nil); err != nil {
		if err == filepath.SkipDir {
			return nil
		}
		return err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fn(path, d, err)
	}
	for _, entry := range entries {
		if err := walkDirEntries(filepath.Join(path, entry.Name()), visited, fn); err != nil {
			if err == filepath.SkipDir {
				continue
			}
			return err
		}
	}
	return nil
}

// Package async provides background processing infrastructure for the
// claudevil indexer: progress tracking and a goroutine-backed runner that
// wraps index_directory so it can run outside the request path.
package async

import (
	"sync"
	"time"
)

// IndexingStatus represents the overall indexing state.
type IndexingStatus string

const (
	// StatusIndexing indicates indexing is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates indexing is complete and search is available.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates indexing failed with an error.
	StatusError IndexingStatus = "error"
)

// IndexingStage represents the current stage of the indexing process.
type IndexingStage string

const (
	// StageScanning indicates the file discovery phase.
	StageScanning IndexingStage = "scanning"
	// StageChunking indicates the code/text chunking phase.
	StageChunking IndexingStage = "chunking"
	// StageEmbedding indicates the embedding generation phase.
	StageEmbedding IndexingStage = "embedding"
	// StageIndexing indicates the index building phase.
	StageIndexing IndexingStage = "indexing"
)

// IndexProgressSnapshot is an immutable snapshot of indexing progress.
type IndexProgressSnapshot struct {
	Status         string         `json:"status"`
	Stage          string         `json:"stage"`
	CurrentFile    string         `json:"current_file,omitempty"`
	FilesTotal     int            `json:"files_total"`
	FilesProcessed int            `json:"files_processed"`
	ChunksTotal    int            `json:"chunks_total"`
	ChunksIndexed  int            `json:"chunks_indexed"`
	ChunksByLang   map[string]int `json:"chunks_by_language,omitempty"`
	ProgressPct    float64        `json:"progress_pct"`
	ChunksPerSec   float64        `json:"chunks_per_second"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// IndexProgress provides thread-safe tracking of the progress of a single
// IndexDirectory run: which file is being chunked, how many chunks have
// been produced per language, and how many have made it into the store.
type IndexProgress struct {
	mu sync.RWMutex

	status         IndexingStatus
	stage          IndexingStage
	currentFile    string
	filesTotal     int
	filesProcessed int
	chunksTotal    int
	chunksIndexed  int
	chunksByLang   map[string]int
	startTime      time.Time
	errorMessage   string
}

// NewIndexProgress creates a new progress tracker initialized for indexing.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:       StatusIndexing,
		stage:        StageScanning,
		chunksByLang: make(map[string]int),
		startTime:    time.Now(),
	}
}

// SetStage updates the current indexing stage and resets the total count.
func (p *IndexProgress) SetStage(stage IndexingStage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.filesTotal = total
}

// UpdateFiles updates the number of processed files.
func (p *IndexProgress) UpdateFiles(processed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.filesProcessed = processed
}

// SetChunksTotal sets the total number of chunks to process.
func (p *IndexProgress) SetChunksTotal(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksTotal = total
}

// UpdateChunks updates the number of indexed chunks.
func (p *IndexProgress) UpdateChunks(indexed int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chunksIndexed = indexed
}

// SetCurrentFile records the path of the file currently being chunked, so
// a caller polling Snapshot mid-run can tell what the indexer is doing
// rather than only how far along it is.
func (p *IndexProgress) SetCurrentFile(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentFile = path
}

// AddLanguageChunks adds n to the running chunk count for language. The
// per-language breakdown this builds up lets a multi-language project's
// progress be read by language, not just as one flat total.
func (p *IndexProgress) AddLanguageChunks(language string, n int) {
	if n == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chunksByLang == nil {
		p.chunksByLang = make(map[string]int)
	}
	p.chunksByLang[language] += n
}

// SetError marks the indexing as failed with an error message.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
}

// SetReady marks the indexing as complete and ready for search.
func (p *IndexProgress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
}

// IsIndexing returns true if indexing is still in progress.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns an immutable copy of the current progress state.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	if p.filesTotal > 0 {
		progressPct = float64(p.filesProcessed) / float64(p.filesTotal) * 100.0
	}

	elapsed := time.Since(p.startTime)
	var chunksPerSec float64
	if elapsed > 0 {
		chunksPerSec = float64(p.chunksIndexed) / elapsed.Seconds()
	}

	var byLang map[string]int
	if len(p.chunksByLang) > 0 {
		byLang = make(map[string]int, len(p.chunksByLang))
		for lang, n := range p.chunksByLang {
			byLang[lang] = n
		}
	}

	return IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		CurrentFile:    p.currentFile,
		FilesTotal:     p.filesTotal,
		FilesProcessed: p.filesProcessed,
		ChunksTotal:    p.chunksTotal,
		ChunksIndexed:  p.chunksIndexed,
		ChunksByLang:   byLang,
		ProgressPct:    progressPct,
		ChunksPerSec:   chunksPerSec,
		ElapsedSeconds: int(elapsed.Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}

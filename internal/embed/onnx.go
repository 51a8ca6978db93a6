package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/semaphore"

	claudevilerrors "github.com/cpcloud/claudevil/internal/errors"
)

// onnxEmbedder wraps an ONNX Runtime session and a HuggingFace tokenizer
// for the reference model (sentence-transformers/all-MiniLM-L6-v2).
// Inference is CPU-bound, so calls are bounded by a semaphore-backed
// worker pool: at most numThreads inference calls run at once, each on
// its caller's goroutine once it holds a slot, keeping concurrent
// queries and background indexing from starving each other.
type onnxEmbedder struct {
	session    *ort.DynamicAdvancedSession
	tokenizer  *tokenizers.Tokenizer
	dimensions int
	modelName  string
	workers    *semaphore.Weighted
}

// NewONNXEmbedder loads model.onnx and tokenizer.json from modelDir.
// ortLibPath points at the onnxruntime shared library; pass "" to use
// the system default. numThreads bounds intra-op parallelism inside a
// single inference call; 0 selects min(4, NumCPU).
func NewONNXEmbedder(modelDir, ortLibPath string, numThreads int) (*onnxEmbedder, error) {
	modelPath := filepath.Join(modelDir, "model.onnx")
	tokenPath := filepath.Join(modelDir, "tokenizer.json")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad,
			fmt.Sprintf("model not found at %s", modelPath), err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad,
			fmt.Sprintf("tokenizer not found at %s", tokenPath), err)
	}

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad, "failed to initialize onnxruntime", err)
	}

	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
		if numThreads > 4 {
			numThreads = 4
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad, "failed to create session options", err)
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(numThreads); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad, "failed to set intra-op threads", err)
	}
	if err := opts.SetInterOpNumThreads(1); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad, "failed to set inter-op threads", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad, "failed to create onnx session", err)
	}

	tk, err := tokenizers.FromFile(tokenPath)
	if err != nil {
		session.Destroy()
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeModelLoad, "failed to load tokenizer", err)
	}

	return &onnxEmbedder{
		session:    session,
		tokenizer:  tk,
		dimensions: Dimensions,
		modelName:  "sentence-transformers/all-MiniLM-L6-v2",
		workers:    semaphore.NewWeighted(int64(numThreads)),
	}, nil
}

func (e *onnxEmbedder) Dimensions() int   { return e.dimensions }
func (e *onnxEmbedder) ModelName() string { return e.modelName }

func (e *onnxEmbedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.tokenizer != nil {
		e.tokenizer.Close()
	}
	return nil
}

// Embed embeds a single text. Equivalent to the first output of
// EmbedBatch([text]).
func (e *onnxEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeEmptyEmbedding, "embedder returned no vectors", nil)
	}
	return vecs[0], nil
}

// EmbedBatch tokenizes, runs the forward pass, mean-pools with the
// attention mask, and L2-normalizes. It acquires a worker-pool slot
// before touching the ONNX session, so only a bounded number of batches
// run inference at once; the inference itself runs on the calling
// goroutine.
func (e *onnxEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInferenceFailed, "failed to acquire embedding worker", err)
	}
	defer e.workers.Release(1)

	return e.embedBatch(texts)
}

type encoded struct {
	ids  []int64
	mask []int64
}

func (e *onnxEmbedder) embedBatch(texts []string) ([][]float32, error) {
	batchSize := len(texts)

	all := make([]encoded, batchSize)
	maxLen := 0
	for i, text := range texts {
		enc := e.tokenizer.EncodeWithOptions(text, true, tokenizers.WithReturnAttentionMask())
		ids := enc.IDs
		if len(ids) > MaxSeqLen {
			ids = ids[:MaxSeqLen]
		}
		ids64 := make([]int64, len(ids))
		mask64 := make([]int64, len(ids))
		for j, v := range ids {
			ids64[j] = int64(v)
			mask64[j] = 1
		}
		if len(enc.AttentionMask) >= len(ids) {
			for j := range ids64 {
				mask64[j] = int64(enc.AttentionMask[j])
			}
		}
		all[i] = encoded{ids: ids64, mask: mask64}
		if len(ids64) > maxLen {
			maxLen = len(ids64)
		}
	}
	if maxLen == 0 {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeTokenizeFailed, "all texts tokenized to zero length", nil)
	}

	// Pad every sequence to the longest in the batch.
	flatIDs := make([]int64, batchSize*maxLen)
	flatMask := make([]int64, batchSize*maxLen)
	flatType := make([]int64, batchSize*maxLen)
	for i, enc := range all {
		copy(flatIDs[i*maxLen:], enc.ids)
		copy(flatMask[i*maxLen:], enc.mask)
	}
	shape := ort.NewShape(int64(batchSize), int64(maxLen))

	inputIDs, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInferenceFailed, "failed to build input_ids tensor", err)
	}
	defer inputIDs.Destroy()

	attnMask, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInferenceFailed, "failed to build attention_mask tensor", err)
	}
	defer attnMask.Destroy()

	typeIDs, err := ort.NewTensor(shape, flatType)
	if err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInferenceFailed, "failed to build token_type_ids tensor", err)
	}
	defer typeIDs.Destroy()

	inputs := []ort.Value{inputIDs, attnMask, typeIDs}
	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInferenceFailed, "onnx session run failed", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	hiddenTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, claudevilerrors.New(claudevilerrors.ErrCodeInferenceFailed, "unexpected onnx output type", nil)
	}
	hidden := hiddenTensor.GetData()
	seqLen := int(hiddenTensor.GetShape()[1])
	hiddenDim := int(hiddenTensor.GetShape()[2])

	embeddings := make([][]float32, batchSize)
	for b := 0; b < batchSize; b++ {
		pooled := meanPool(hidden, all[b].mask, b, seqLen, hiddenDim)
		embeddings[b] = normalizeVector(pooled)
	}

	return embeddings, nil
}

// meanPool computes pooled[h] = Σ_l(hidden[b,l,h]·mask[b,l]) / Σ_l mask[b,l]
// over the sequence dimension, using the sequence's attention mask as
// truncated to MaxSeqLen (padding positions beyond mask's length count
// as 0).
func meanPool(hidden []float32, mask []int64, b, seqLen, hiddenDim int) []float32 {
	pooled := make([]float32, hiddenDim)
	var maskSum float32
	base := b * seqLen * hiddenDim

	for l := 0; l < seqLen; l++ {
		var m float32
		if l < len(mask) {
			m = float32(mask[l])
		}
		if m == 0 {
			continue
		}
		maskSum += m
		rowBase := base + l*hiddenDim
		for h := 0; h < hiddenDim; h++ {
			pooled[h] += hidden[rowBase+h] * m
		}
	}

	if maskSum == 0 {
		return pooled
	}
	for h := range pooled {
		pooled[h] /= maskSum
	}
	return pooled
}

var _ Embedder = (*onnxEmbedder)(nil)

//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/semcache/pkg/utils"
)

var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// onnxBuffers holds the tensors bound to a session. Inputs are rewritten before every Run.
type onnxBuffers struct {
	inputs [3]*ort.Tensor[int64] // ids, mask, token types; same order as onnxInputNames
	output *ort.Tensor[float32]
}

func newONNXBuffers(maxTokens, dimensions int) (*onnxBuffers, error) {
	b := &onnxBuffers{}
	shape := ort.NewShape(1, int64(maxTokens))
	for i, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			b.destroy()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		b.inputs[i] = t
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		b.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	b.output = out
	return b, nil
}

func (b *onnxBuffers) load(ids, mask, types []int64) {
	copy(b.inputs[0].GetData(), ids)
	copy(b.inputs[1].GetData(), mask)
	copy(b.inputs[2].GetData(), types)
}

func (b *onnxBuffers) destroy() {
	for i, t := range b.inputs {
		if t != nil {
			_ = t.Destroy()
			b.inputs[i] = nil
		}
	}
	if b.output != nil {
		_ = b.output.Destroy()
		b.output = nil
	}
}

// ONNXEmbedder runs a local sentence-embedding model with ONNX Runtime, so queries can be
// embedded without a network call. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	buffers    *onnxBuffers
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath. The model must take input_ids, attention_mask
// and token_type_ids of shape [1, maxTokens] and produce a pooled "output" of shape [1, dimensions].
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	switch {
	case modelPath == "":
		return nil, errors.New("onnx embedder requires a model path")
	case dimensions <= 0:
		return nil, fmt.Errorf("onnx embedder requires positive dimensions, got %d", dimensions)
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	buffers, err := newONNXBuffers(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	inputs := make([]ort.ArbitraryTensor, len(buffers.inputs))
	for i, t := range buffers.inputs {
		inputs[i] = t
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		inputs, []ort.ArbitraryTensor{buffers.output}, nil)
	if err != nil {
		buffers.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}

	return &ONNXEmbedder{
		session:    session,
		buffers:    buffers,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed runs the model on text and returns an L2-normalized copy of the pooled output.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}

	e.buffers.load(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	vec := make([]float32, e.dimensions)
	copy(vec, e.buffers.output.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and its tensors. Embed fails afterwards.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.buffers.destroy()
	return err
}

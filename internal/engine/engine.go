// Package engine defines the inference-engine collaborators that the
// generation core drives: a loaded model (tokenizer, detokenizer and special
// token queries), a decoding context (KV cache + forward pass) and a sampler.
//
// Concrete backends:
//
//   - yzma.go (build tag `llama`): llama.cpp through github.com/hybridgroup/yzma.
//     No CGO is needed; the shared libraries are loaded at runtime.
//   - stub.go (default): refuses to load models so default builds stay free of
//     native dependencies.
//   - enginetest: a scripted in-memory engine for tests.
package engine

import (
	"errors"

	"github.com/rs/zerolog"
)

var logger = zerolog.Nop()

// SetLogger installs the logger used by native backends for errors that
// cannot be returned to the caller.
func SetLogger(l zerolog.Logger) { logger = l }

// Token is a vocabulary id.
type Token int32

// ErrUnavailable is returned by backends that were not compiled in or whose
// native libraries could not be loaded.
var ErrUnavailable = errors.New("inference engine unavailable")

// Model is a loaded, read-only model. It is shared by every context created
// from it and is freed only by whoever loaded it.
type Model interface {
	// Tokenize converts text to token ids. addBOS prepends the
	// beginning-of-sequence token; parseSpecial lets control-token text
	// (e.g. "<s>") map to its special id.
	Tokenize(text string, addBOS, parseSpecial bool) ([]Token, error)
	// TokenToPiece writes the bytes of tok into buf and returns the count,
	// or the negated required size when buf is too small.
	TokenToPiece(tok Token, buf []byte) int32
	BOS() Token
	EOS() Token
	// IsEOG reports whether tok ends generation for this model (EOS, EOT, ...).
	IsEOG(tok Token) bool
	// ContextLength is the context size the model was trained with.
	ContextLength() int
	Close() error
}

// Context is the engine-resident decoding state for one sequence.
// It must not be used by more than one caller at a time.
type Context interface {
	// Size is the context window in tokens.
	Size() int
	// BatchSize is the largest number of tokens accepted by one Decode call.
	BatchSize() int
	// Decode pushes tokens through the model starting at position pos.
	Decode(tokens []Token, pos int) error
	// ClearKV drops every cached position.
	ClearKV()
	Close() error
}

// Sampler selects the next token from the logits of a Context.
type Sampler interface {
	Sample(ctx Context) Token
	// Accept records tok in the sampler history. track is false for prompt
	// tokens: they feed repetition penalties but are not grammar-checked.
	Accept(tok Token, track bool)
	Reset()
	Close() error
}

// Backend creates models, contexts and samplers.
type Backend interface {
	Name() string
	// Available reports whether the backend can load models at all.
	Available() error
	LoadModel(path string) (Model, error)
	NewContext(m Model, p ContextParams) (Context, error)
	NewSampler(m Model, p SamplerParams) (Sampler, error)
}

// ContextParams configures a decoding context.
type ContextParams struct {
	// Size is the context window; 0 uses the model's training context.
	Size      int
	BatchSize int
	Threads   int
}

// SamplerParams configures token selection.
type SamplerParams struct {
	Temperature      float32
	TopK             int
	TopP             float32
	Seed             uint32
	RepeatLastN      int
	RepeatPenalty    float32
	FrequencyPenalty float32
	PresencePenalty  float32
	// IgnoreEOS biases the end-of-sequence logit to -inf.
	IgnoreEOS bool
}

// DefaultSeed asks the backend to pick a random seed.
const DefaultSeed = 0xFFFFFFFF

// DefaultSamplerParams mirrors llama.cpp's common defaults.
func DefaultSamplerParams() SamplerParams {
	return SamplerParams{
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		Seed:          DefaultSeed,
		RepeatLastN:   64,
		RepeatPenalty: 1.0,
	}
}

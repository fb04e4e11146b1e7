//go:build llama

package engine

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// Process-wide library load. llama.cpp backend init/free is not per model.
var (
	loadOnce sync.Once
	loadErr  error
)

type llamaBackend struct {
	libPath string
}

// NewLlamaBackend returns a backend that loads llama.cpp shared libraries
// from libPath on first use.
func NewLlamaBackend(libPath string) Backend {
	return &llamaBackend{libPath: libPath}
}

func (b *llamaBackend) Name() string { return "llama.cpp (yzma)" }

func (b *llamaBackend) Available() error {
	loadOnce.Do(func() {
		if err := llama.Load(b.libPath); err != nil {
			loadErr = fmt.Errorf("%w: load llama.cpp libraries from %s: %v", ErrUnavailable, b.libPath, err)
			return
		}
		llama.Init()
	})
	return loadErr
}

func (b *llamaBackend) LoadModel(path string) (Model, error) {
	if err := b.Available(); err != nil {
		return nil, err
	}
	m, err := llama.ModelLoadFromFile(path, llama.ModelDefaultParams())
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &llamaModel{model: m, vocab: llama.ModelGetVocab(m)}, nil
}

func (b *llamaBackend) NewContext(m Model, p ContextParams) (Context, error) {
	lm, ok := m.(*llamaModel)
	if !ok {
		return nil, fmt.Errorf("llama backend: foreign model %T", m)
	}
	cp := llama.ContextDefaultParams()
	cp.Embeddings = 0
	cp.NCtx = uint32(p.Size)
	if p.BatchSize > 0 {
		cp.NBatch = uint32(p.BatchSize)
	}
	threads := p.Threads
	if threads <= 0 {
		threads = runtime.NumCPU() / 2
	}
	cp.NThreads = int32(max(1, threads))
	lctx, err := llama.InitFromModel(lm.model, cp)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	return &llamaContext{ctx: lctx}, nil
}

func (b *llamaBackend) NewSampler(m Model, p SamplerParams) (Sampler, error) {
	lm, ok := m.(*llamaModel)
	if !ok {
		return nil, fmt.Errorf("llama backend: foreign model %T", m)
	}
	chain := llama.SamplerChainInit(llama.SamplerChainDefaultParams())
	if p.IgnoreEOS {
		bias := []llama.LogitBias{{Token: llama.VocabEOS(lm.vocab), Bias: float32(math.Inf(-1))}}
		llama.SamplerChainAdd(chain, llama.SamplerInitLogitBias(llama.VocabNTokens(lm.vocab), int32(len(bias)), &bias[0]))
	}
	if p.RepeatLastN != 0 && (p.RepeatPenalty != 1 || p.FrequencyPenalty != 0 || p.PresencePenalty != 0) {
		llama.SamplerChainAdd(chain, llama.SamplerInitPenalties(int32(p.RepeatLastN), p.RepeatPenalty, p.FrequencyPenalty, p.PresencePenalty))
	}
	if p.Temperature <= 0 {
		llama.SamplerChainAdd(chain, llama.SamplerInitGreedy())
	} else {
		if p.TopK > 0 {
			llama.SamplerChainAdd(chain, llama.SamplerInitTopK(int32(p.TopK)))
		}
		if p.TopP > 0 && p.TopP < 1 {
			llama.SamplerChainAdd(chain, llama.SamplerInitTopP(p.TopP, 1))
		}
		llama.SamplerChainAdd(chain, llama.SamplerInitTempExt(p.Temperature, 0, 1))
		llama.SamplerChainAdd(chain, llama.SamplerInitDist(p.Seed))
	}
	return &llamaSampler{chain: chain}, nil
}

type llamaModel struct {
	model llama.Model
	vocab llama.Vocab
}

func (m *llamaModel) Tokenize(text string, addBOS, parseSpecial bool) ([]Token, error) {
	toks := llama.Tokenize(m.vocab, text, addBOS, parseSpecial)
	out := make([]Token, len(toks))
	for i, t := range toks {
		out[i] = Token(t)
	}
	return out, nil
}

func (m *llamaModel) TokenToPiece(tok Token, buf []byte) int32 {
	return int32(llama.TokenToPiece(m.vocab, llama.Token(tok), buf, 0, true))
}

func (m *llamaModel) BOS() Token           { return Token(llama.VocabBOS(m.vocab)) }
func (m *llamaModel) EOS() Token           { return Token(llama.VocabEOS(m.vocab)) }
func (m *llamaModel) IsEOG(tok Token) bool { return llama.VocabIsEOG(m.vocab, llama.Token(tok)) }
func (m *llamaModel) ContextLength() int   { return int(llama.ModelNCtxTrain(m.model)) }

func (m *llamaModel) Close() error {
	return llama.ModelFree(m.model)
}

// llamaContext tracks the next position itself: llama_batch_get_one lets the
// KV cache assign positions, so callers must decode strictly in sequence.
type llamaContext struct {
	ctx  llama.Context
	next int
}

func (c *llamaContext) Size() int      { return int(llama.NCtx(c.ctx)) }
func (c *llamaContext) BatchSize() int { return int(llama.NBatch(c.ctx)) }

func (c *llamaContext) Decode(tokens []Token, pos int) error {
	if pos != c.next {
		return fmt.Errorf("decode at position %d, cache holds %d", pos, c.next)
	}
	batch := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		batch[i] = llama.Token(t)
	}
	// BatchGetOne does not allocate; no BatchFree.
	if _, err := llama.Decode(c.ctx, llama.BatchGetOne(batch)); err != nil {
		return err
	}
	c.next += len(tokens)
	return nil
}

// ClearKV drops the whole cache. A failure leaves next untouched so the
// following Decode at position 0 reports the mismatch.
func (c *llamaContext) ClearKV() {
	mem, err := llama.GetMemory(c.ctx)
	if err != nil {
		logger.Error().Err(err).Msg("get context memory")
		return
	}
	if err := llama.MemoryClear(mem, true); err != nil {
		logger.Error().Err(err).Msg("clear kv cache")
		return
	}
	c.next = 0
}

func (c *llamaContext) Close() error {
	return llama.Free(c.ctx)
}

type llamaSampler struct {
	chain llama.Sampler
}

func (s *llamaSampler) Sample(ctx Context) Token {
	lc := ctx.(*llamaContext)
	return Token(llama.SamplerSample(s.chain, lc.ctx, -1))
}

// Accept feeds prompt tokens into the chain history. Sampled tokens are
// already accepted by llama_sampler_sample, so track=true is a no-op.
func (s *llamaSampler) Accept(tok Token, track bool) {
	if track {
		return
	}
	llama.SamplerAccept(s.chain, llama.Token(tok))
}

func (s *llamaSampler) Reset() { llama.SamplerReset(s.chain) }

func (s *llamaSampler) Close() error {
	llama.SamplerFree(s.chain)
	return nil
}

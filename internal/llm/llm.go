// Package llm drives single-session autoregressive generation on top of an
// inference engine.
//
// A Runtime binds a loaded model to one decoding context. A Session holds the
// per-conversation state: prompt tokens, tokens waiting to be decoded, the
// decode position, the remaining token budget and the stop-token set. The
// caller sets a prompt, then calls Step until it returns a terminal error:
//
//	rt, err := llm.Init(backend, model, llm.DefaultParams())
//	s := llm.NewSession()
//	defer s.Close()
//	if err := rt.SetPrompt(s, "USER: hi\nASSISTANT: "); err != nil { ... }
//	for {
//		tok, err := rt.Step(s)
//		if err != nil { break } // llm.ErrDone, llm.ErrContextFull or a *DecodeError
//		piece, _ := rt.Piece(tok)
//		...
//	}
//
// Nothing in this package locks. A Runtime's context must be driven by one
// session at a time, one Step at a time.
package llm

import (
	"fmt"

	"github.com/rs/zerolog"

	"stepllm/internal/engine"
)

var logger = zerolog.Nop()

// SetLogger installs the logger used by the generation core.
func SetLogger(l zerolog.Logger) { logger = l }

// Runtime is an initialised model: a borrowed model plus the decoding context
// it owns.
type Runtime struct {
	backend engine.Backend
	model   engine.Model
	ctx     engine.Context
	params  Params
	nCtx    int
	nBatch  int
}

// Init creates the decoding context for model. The model stays owned by the
// caller and must outlive the Runtime.
func Init(backend engine.Backend, model engine.Model, p Params) (*Runtime, error) {
	if backend == nil || model == nil {
		return nil, fmt.Errorf("%w: no model", ErrLoadFailure)
	}
	if model.EOS() < 0 {
		return nil, fmt.Errorf("%w: model has no end-of-sequence token", ErrLoadFailure)
	}
	ctx, err := backend.NewContext(model, engine.ContextParams{
		Size:      p.ContextSize,
		BatchSize: p.BatchSize,
		Threads:   p.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContextCreation, err)
	}
	r := &Runtime{backend: backend, model: model, ctx: ctx, params: p}
	r.nCtx = ctx.Size()
	r.nBatch = p.BatchSize
	if n := ctx.BatchSize(); n > 0 && (r.nBatch <= 0 || n < r.nBatch) {
		r.nBatch = n
	}
	if r.nBatch <= 0 {
		r.nBatch = 1
	}
	if p.Warmup {
		r.warmup()
	}
	logger.Debug().Int("n_ctx", r.nCtx).Int("n_batch", r.nBatch).Str("backend", backend.Name()).Msg("runtime ready")
	return r, nil
}

// warmup decodes BOS+EOS once so the first real prompt does not pay for lazy
// engine allocations, then forgets it.
func (r *Runtime) warmup() {
	toks := []engine.Token{r.model.BOS(), r.model.EOS()}
	if len(toks) > r.nBatch {
		toks = toks[:r.nBatch]
	}
	if err := r.ctx.Decode(toks, 0); err != nil {
		logger.Warn().Err(err).Msg("warmup decode failed")
	}
	r.ctx.ClearKV()
}

// Model returns the borrowed model.
func (r *Runtime) Model() engine.Model { return r.model }

// ContextSize is the context window in tokens.
func (r *Runtime) ContextSize() int { return r.nCtx }

// BatchSize is the largest chunk handed to a single decode.
func (r *Runtime) BatchSize() int { return r.nBatch }

// Params returns the parameters the runtime was created with.
func (r *Runtime) Params() Params { return r.params }

// Close frees the decoding context. The model is left to its owner.
func (r *Runtime) Close() error {
	if r.ctx == nil {
		return nil
	}
	err := r.ctx.Close()
	r.ctx = nil
	return err
}

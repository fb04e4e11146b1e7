package llm

import (
	"errors"
	"fmt"

	"stepllm/internal/chat"
	"stepllm/internal/engine"
)

// SetPrompt tokenizes text and resets s to generate from it. The decoding
// context is cleared, so any previous conversation is forgotten. On error the
// session keeps no prompt and must be given a new one before Step.
func (r *Runtime) SetPrompt(s *Session, text string) error {
	toks, err := r.encode(text)
	if err != nil {
		s.input = nil
		s.pending = s.pending[:0]
		s.consumed = 0
		s.state = StateAwaitingPrompt
		s.err = nil
		return err
	}
	if s.resample {
		if err := s.sampler.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing replaced sampler")
		}
		s.sampler = nil
		s.resample = false
	}
	if s.sampler == nil {
		params := r.params.Sampling
		if s.sampling != nil {
			params = *s.sampling
		}
		sp, err := r.backend.NewSampler(r.model, params)
		if err != nil {
			s.input = nil
			s.state = StateAwaitingPrompt
			return fmt.Errorf("%w: %w", ErrSamplerInit, err)
		}
		s.sampler = sp
	} else {
		s.sampler.Reset()
	}
	s.reset(toks, budget(r.params.Predict), []engine.Token{r.model.BOS(), r.model.EOS()})
	r.ctx.ClearKV()
	promptTokens.Add(float64(len(toks)))
	logger.Debug().Int("tokens", len(toks)).Int("n_ctx", r.nCtx).Msg("prompt set")
	return nil
}

// SetPromptFromMessages formats msgs in the given chat style and sets the
// result as the prompt.
func (r *Runtime) SetPromptFromMessages(s *Session, msgs []chat.Message, style chat.Style) error {
	text, err := chat.Format(msgs, style)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessages) {
			err = fmt.Errorf("%w: %w", ErrEmptyPrompt, err)
		}
		s.input = nil
		s.state = StateAwaitingPrompt
		return err
	}
	return r.SetPrompt(s, text)
}

// encode tokenizes a prompt with a leading BOS and special-token parsing and
// checks that it leaves room to generate.
func (r *Runtime) encode(text string) ([]engine.Token, error) {
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	toks, err := r.model.Tokenize(text, true, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize prompt: %w", err)
	}
	if len(toks) == 0 {
		return nil, ErrEmptyPrompt
	}
	if limit := r.nCtx - promptMargin; len(toks) > limit {
		return nil, fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLong, len(toks), limit)
	}
	return toks, nil
}

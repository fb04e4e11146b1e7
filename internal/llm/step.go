package llm

import "stepllm/internal/engine"

// Step advances generation by one sampled token and returns it. Pending
// tokens are decoded first; prompt tokens are queued a batch at a time and
// decoded within the same call, so only sampled tokens are ever returned.
//
// The returned token has not been decoded yet: the next Step decodes it.
// Generation ends with ErrDone (budget spent, or an end-of-generation or stop
// token as the last pending entry, whether sampled or ending a prompt batch),
// ErrContextFull or a *DecodeError. Once ended, Step keeps returning the same
// error until a new prompt is set.
func (r *Runtime) Step(s *Session) (tok engine.Token, err error) {
	defer func() { generationSteps.WithLabelValues(stepStatus(err)).Inc() }()

	switch {
	case s.state == StateAwaitingPrompt:
		return -1, ErrNoPrompt
	case s.state.Terminal():
		return -1, s.err
	}

	for {
		if s.remain == 0 {
			return -1, s.terminate(StateDone, ErrDone)
		}
		if len(s.pending) > 0 {
			if err := r.decodePending(s); err != nil {
				return -1, err
			}
		}
		if s.consumed < len(s.input) {
			r.queuePrompt(s)
			if last := s.pending[len(s.pending)-1]; r.endsOn(s, last) {
				logger.Debug().Int32("token", int32(last)).Int("pos", s.pos).Msg("prompt batch ends on stop token")
				return -1, s.stopOn()
			}
			continue
		}
		tok = r.sample(s)
		if r.endsOn(s, tok) {
			logger.Debug().Int32("token", int32(tok)).Int("pos", s.pos).Msg("stop token sampled")
			return -1, s.stopOn()
		}
		s.sampled++
		return tok, nil
	}
}

// endsOn reports whether tok, as the last pending entry, ends generation.
func (r *Runtime) endsOn(s *Session, tok engine.Token) bool {
	return r.model.IsEOG(tok) || s.isStop(tok)
}

// queuePrompt moves up to one batch of prompt tokens into pending. The
// sampler sees them for repetition penalties only.
func (r *Runtime) queuePrompt(s *Session) {
	for s.consumed < len(s.input) {
		t := s.input[s.consumed]
		s.pending = append(s.pending, t)
		s.sampler.Accept(t, false)
		s.consumed++
		if len(s.pending) >= r.nBatch {
			break
		}
	}
}

// sample draws the next token and makes it the sole pending entry.
func (r *Runtime) sample(s *Session) engine.Token {
	t := s.sampler.Sample(r.ctx)
	s.sampler.Accept(t, true)
	s.pending = append(s.pending[:0], t)
	if s.remain > 0 {
		s.remain--
	}
	sampledTokens.Inc()
	return t
}

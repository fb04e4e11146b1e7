package llm

import (
	"time"

	"stepllm/internal/engine"
)

// chunks splits toks into consecutive slices of at most size tokens. The
// slices alias toks.
func chunks(toks []engine.Token, size int) [][]engine.Token {
	if size <= 0 {
		size = 1
	}
	out := make([][]engine.Token, 0, (len(toks)+size-1)/size)
	for i := 0; i < len(toks); i += size {
		end := min(i+size, len(toks))
		out = append(out, toks[i:end])
	}
	return out
}

// decodePending feeds the pending tokens to the context chunk by chunk,
// advancing the position after each one. A failed chunk ends the session;
// the chunks before it stay in the context.
func (r *Runtime) decodePending(s *Session) error {
	if s.pos+len(s.pending) >= r.nCtx {
		logger.Debug().Int("pos", s.pos).Int("pending", len(s.pending)).Int("n_ctx", r.nCtx).Msg("context full")
		return s.terminate(StateContextFull, ErrContextFull)
	}
	for _, c := range chunks(s.pending, r.nBatch) {
		start := time.Now()
		if err := r.ctx.Decode(c, s.pos); err != nil {
			logger.Error().Err(err).Int("pos", s.pos).Int("n", len(c)).Msg("decode failed")
			return s.terminate(StateDecodeFailed, &DecodeError{Pos: s.pos, N: len(c), Err: err})
		}
		decodeSeconds.Observe(time.Since(start).Seconds())
		s.pos += len(c)
	}
	s.pending = s.pending[:0]
	return nil
}

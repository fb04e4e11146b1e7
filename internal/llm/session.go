package llm

import (
	"slices"

	"stepllm/internal/engine"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateAwaitingPrompt State = iota
	StateGenerating
	StateDone
	StateContextFull
	StateDecodeFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingPrompt:
		return "awaiting_prompt"
	case StateGenerating:
		return "generating"
	case StateDone:
		return "done"
	case StateContextFull:
		return "context_full"
	case StateDecodeFailed:
		return "decode_failed"
	}
	return "unknown"
}

// Terminal reports whether no further tokens can be produced without a new prompt.
func (s State) Terminal() bool { return s >= StateDone }

// Session is the mutable state of one conversation.
type Session struct {
	input    []engine.Token // prompt tokens, fixed once set
	pending  []engine.Token // queued for the next decode
	consumed int            // prompt tokens moved to pending
	pos      int            // tokens already decoded into the context
	remain   int            // token budget; -1 unbounded
	stop     []engine.Token
	extra    []engine.Token // caller stop ids, kept across prompts
	sampler  engine.Sampler
	sampling *engine.SamplerParams // overrides the runtime's sampling params
	resample bool                  // sampler predates sampling; replace at next prompt
	state    State
	stopped  bool  // ended on an end-of-generation or stop token
	err      error // repeated by Step once terminal
	sampled  int   // tokens returned by Step
}

// NewSession returns an empty session awaiting a prompt.
func NewSession() *Session {
	return &Session{remain: -1}
}

// InputTokenCount is the number of tokens in the current prompt.
func (s *Session) InputTokenCount() int { return len(s.input) }

// Position is the number of tokens decoded into the context.
func (s *Session) Position() int { return s.pos }

// Remaining is the token budget left; -1 means unbounded.
func (s *Session) Remaining() int { return s.remain }

// Generated is the number of tokens Step returned since the prompt was set.
func (s *Session) Generated() int { return s.sampled }

// StoppedOnToken reports whether generation ended because an
// end-of-generation or stop token came up, as opposed to the budget running
// out.
func (s *Session) StoppedOnToken() bool { return s.stopped }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// SetBudget overrides the token budget of the current prompt. Negative
// values mean unbounded.
func (s *Session) SetBudget(n int) {
	if n < 0 {
		n = -1
	}
	s.remain = n
}

// AddStopTokens adds ids that end generation when sampled. They persist
// across prompts.
func (s *Session) AddStopTokens(toks ...engine.Token) {
	for _, t := range toks {
		if !slices.Contains(s.extra, t) {
			s.extra = append(s.extra, t)
		}
		if !slices.Contains(s.stop, t) {
			s.stop = append(s.stop, t)
		}
	}
}

// SetSampling makes the session sample with p instead of the runtime's
// parameters. It takes effect at the next prompt. While a prompt is being
// generated the current sampler keeps serving it; otherwise it is released
// now.
func (s *Session) SetSampling(p engine.SamplerParams) error {
	s.sampling = &p
	if s.sampler == nil {
		return nil
	}
	if s.state == StateGenerating {
		s.resample = true
		return nil
	}
	err := s.sampler.Close()
	s.sampler = nil
	s.resample = false
	return err
}

func (s *Session) isStop(tok engine.Token) bool {
	return slices.Contains(s.stop, tok)
}

// reset prepares the session for a new prompt.
func (s *Session) reset(input []engine.Token, remain int, stop []engine.Token) {
	s.input = input
	s.pending = s.pending[:0]
	s.consumed = 0
	s.pos = 0
	s.remain = remain
	s.stop = append(s.stop[:0], stop...)
	for _, t := range s.extra {
		if !slices.Contains(s.stop, t) {
			s.stop = append(s.stop, t)
		}
	}
	s.state = StateGenerating
	s.err = nil
	s.sampled = 0
	s.stopped = false
}

// terminate moves the session into a terminal state and returns err.
func (s *Session) terminate(st State, err error) error {
	s.state = st
	s.err = err
	return err
}

func (s *Session) stopOn() error {
	s.stopped = true
	return s.terminate(StateDone, ErrDone)
}

// Close releases the sampler owned by the session. The runtime's context and
// model are not touched.
func (s *Session) Close() error {
	if s.sampler == nil {
		return nil
	}
	err := s.sampler.Close()
	s.sampler = nil
	s.resample = false
	s.state = StateAwaitingPrompt
	return err
}

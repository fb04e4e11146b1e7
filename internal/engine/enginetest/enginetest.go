// Package enginetest provides a scripted, in-memory inference engine for
// tests. Text is tokenized one byte per token, pieces are the original bytes,
// and the sampler replays a fixed script of token ids.
package enginetest

import (
	"errors"
	"sync"

	"stepllm/internal/engine"
)

// Special ids of the scripted vocabulary. Byte b maps to ByteBase+b.
const (
	BOS      engine.Token = 1
	EOS      engine.Token = 2
	EOT      engine.Token = 3
	ByteBase engine.Token = 16
)

// ByteToken returns the token for a single byte.
func ByteToken(b byte) engine.Token { return ByteBase + engine.Token(b) }

// Tokens returns the byte tokens of s (no BOS).
func Tokens(s string) []engine.Token {
	out := make([]engine.Token, 0, len(s))
	for i := 0; i < len(s); i++ {
		out = append(out, ByteToken(s[i]))
	}
	return out
}

// Model is a byte-level model. Pieces overrides the bytes of individual
// tokens; EOT is always an end-of-generation token.
type Model struct {
	TrainCtx    int
	NoEOS       bool
	Pieces      map[engine.Token]string
	TokenizeErr error

	mu     sync.Mutex
	closed bool
}

// NewModel returns a model with the given training context length.
func NewModel(trainCtx int) *Model {
	return &Model{TrainCtx: trainCtx, Pieces: map[engine.Token]string{}}
}

func (m *Model) Tokenize(text string, addBOS, parseSpecial bool) ([]engine.Token, error) {
	if m.TokenizeErr != nil {
		return nil, m.TokenizeErr
	}
	var out []engine.Token
	if addBOS {
		out = append(out, BOS)
	}
	return append(out, Tokens(text)...), nil
}

func (m *Model) piece(tok engine.Token) string {
	if p, ok := m.Pieces[tok]; ok {
		return p
	}
	if tok >= ByteBase && tok < ByteBase+256 {
		return string([]byte{byte(tok - ByteBase)})
	}
	return ""
}

func (m *Model) TokenToPiece(tok engine.Token, buf []byte) int32 {
	p := m.piece(tok)
	if len(buf) < len(p) {
		return -int32(len(p))
	}
	return int32(copy(buf, p))
}

func (m *Model) BOS() engine.Token { return BOS }

func (m *Model) EOS() engine.Token {
	if m.NoEOS {
		return -1
	}
	return EOS
}

func (m *Model) IsEOG(tok engine.Token) bool { return tok == EOT || (!m.NoEOS && tok == EOS) }

func (m *Model) ContextLength() int { return m.TrainCtx }

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Decode is one recorded Decode call.
type Decode struct {
	Tokens []engine.Token
	Pos    int
}

// Context records every decode. FailOn makes the n-th Decode call (1-based)
// return DecodeErr.
type Context struct {
	size, batch int
	FailOn      int
	DecodeErr   error

	mu      sync.Mutex
	decodes []Decode
	clears  int
	closed  bool
}

// NewContext returns a standalone context with the given window and batch size.
func NewContext(size, batch int) *Context {
	return &Context{size: size, batch: batch}
}

func (c *Context) Size() int      { return c.size }
func (c *Context) BatchSize() int { return c.batch }

func (c *Context) Decode(tokens []engine.Token, pos int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailOn > 0 && len(c.decodes)+1 == c.FailOn {
		c.FailOn = 0
		if c.DecodeErr == nil {
			return errors.New("scripted decode failure")
		}
		return c.DecodeErr
	}
	c.decodes = append(c.decodes, Decode{Tokens: append([]engine.Token(nil), tokens...), Pos: pos})
	return nil
}

func (c *Context) ClearKV() {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
}

func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Decodes returns a copy of the recorded decode calls.
func (c *Context) Decodes() []Decode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Decode(nil), c.decodes...)
}

// Clears returns how many times ClearKV was called.
func (c *Context) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Accepted is one recorded Accept call.
type Accepted struct {
	Token engine.Token
	Track bool
}

// Sampler replays Script; once exhausted it returns Fallback.
type Sampler struct {
	Script   []engine.Token
	Fallback engine.Token

	mu       sync.Mutex
	next     int
	accepted []Accepted
	resets   int
	closed   bool
}

func (s *Sampler) Sample(ctx engine.Context) engine.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.Script) {
		t := s.Script[s.next]
		s.next++
		return t
	}
	return s.Fallback
}

func (s *Sampler) Accept(tok engine.Token, track bool) {
	s.mu.Lock()
	s.accepted = append(s.accepted, Accepted{Token: tok, Track: track})
	s.mu.Unlock()
}

// Reset clears the history but keeps the script position so a reused
// sampler continues with fresh tokens.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.accepted = nil
	s.resets++
	s.mu.Unlock()
}

func (s *Sampler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Accepted returns a copy of the accept history since the last Reset.
func (s *Sampler) Accepted() []Accepted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Accepted(nil), s.accepted...)
}

// Resets returns how many times Reset was called.
func (s *Sampler) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Sampler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Backend hands out scripted models, contexts and samplers. Script is copied
// into every new sampler; Reply sets it from text followed by EOS.
type Backend struct {
	TrainCtx   int
	BatchSize  int
	Script     []engine.Token
	LoadErr    error
	ContextErr error
	SamplerErr error
	Unavail    error

	mu       sync.Mutex
	models   []*Model
	contexts []*Context
	samplers []*Sampler
	params   []engine.SamplerParams
}

// NewBackend returns a backend whose models train at trainCtx tokens and whose
// contexts decode at most batch tokens per call.
func NewBackend(trainCtx, batch int) *Backend {
	return &Backend{TrainCtx: trainCtx, BatchSize: batch}
}

// Reply scripts the sampler to emit text and then EOS.
func (b *Backend) Reply(text string) *Backend {
	b.mu.Lock()
	b.Script = append(Tokens(text), EOS)
	b.mu.Unlock()
	return b
}

func (b *Backend) Name() string { return "enginetest" }

func (b *Backend) Available() error { return b.Unavail }

func (b *Backend) LoadModel(path string) (engine.Model, error) {
	if b.Unavail != nil {
		return nil, b.Unavail
	}
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	m := NewModel(b.TrainCtx)
	b.mu.Lock()
	b.models = append(b.models, m)
	b.mu.Unlock()
	return m, nil
}

func (b *Backend) NewContext(m engine.Model, p engine.ContextParams) (engine.Context, error) {
	if b.ContextErr != nil {
		return nil, b.ContextErr
	}
	size := p.Size
	if size == 0 {
		size = m.ContextLength()
	}
	batch := b.BatchSize
	if p.BatchSize > 0 && (batch == 0 || p.BatchSize < batch) {
		batch = p.BatchSize
	}
	c := NewContext(size, batch)
	b.mu.Lock()
	b.contexts = append(b.contexts, c)
	b.mu.Unlock()
	return c, nil
}

func (b *Backend) NewSampler(m engine.Model, p engine.SamplerParams) (engine.Sampler, error) {
	if b.SamplerErr != nil {
		return nil, b.SamplerErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Sampler{Script: append([]engine.Token(nil), b.Script...), Fallback: EOS}
	b.samplers = append(b.samplers, s)
	b.params = append(b.params, p)
	return s, nil
}

// Models returns every model loaded so far.
func (b *Backend) Models() []*Model {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Model(nil), b.models...)
}

// Contexts returns every context created so far.
func (b *Backend) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

// Samplers returns every sampler created so far.
func (b *Backend) Samplers() []*Sampler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Sampler(nil), b.samplers...)
}

// SamplerParams returns the parameters passed to each NewSampler call.
func (b *Backend) SamplerParams() []engine.SamplerParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]engine.SamplerParams(nil), b.params...)
}

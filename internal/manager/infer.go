package manager

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"stepllm/internal/chat"
	"stepllm/internal/engine"
	"stepllm/internal/llm"
	"stepllm/pkg/types"
)

// Finish reasons reported on the final NDJSON line.
const (
	FinishStop        = "stop"
	FinishLength      = "length"
	FinishContextFull = "context_full"
)

// Infer runs one generation on the requested (or default) model and writes
// NDJSON to w: one {"token": ...} line per chunk of whole UTF-8 text when
// req.Stream is set, then a final types.InferDone line. flusher, if not nil,
// is called after every line.
//
// Requests for the same model are served one at a time in arrival order;
// cancellation of ctx is honoured between steps.
func (m *Manager) Infer(ctx context.Context, req types.InferRequest, w io.Writer, flusher func()) error {
	modelID, err := m.resolveModelID(req.Model)
	if err != nil {
		return err
	}
	if err := validateInferRequest(req); err != nil {
		return badRequestError{err: err}
	}
	if err := m.EnsureInstance(ctx, modelID); err != nil {
		return err
	}
	// Admission: per-instance FIFO queue, single in-flight
	release, err := m.beginGeneration(ctx, modelID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.RLock()
	inst := m.instances[modelID]
	var rt *llm.Runtime
	if inst != nil {
		rt = inst.rt
	}
	m.mu.RUnlock()
	if rt == nil {
		return ErrModelNotFound(modelID)
	}

	sess := llm.NewSession()
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing session")
		}
	}()
	if sp, ok := m.samplingFor(req); ok {
		if err := sess.SetSampling(sp); err != nil {
			return err
		}
	}
	if err := m.setPrompt(rt, sess, req, inst.Format); err != nil {
		if llm.IsUserInput(err) {
			return badRequestError{err: err}
		}
		return err
	}
	if req.MaxTokens > 0 {
		sess.SetBudget(req.MaxTokens)
	}

	start := time.Now()
	g := &generation{w: w, flush: flusher, stream: req.Stream}
	stops := newStopMatcher(req.Stop)
	var asm llm.UTF8Assembler
	finish := ""
	for finish == "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := rt.Step(sess)
		if err != nil {
			switch {
			case errors.Is(err, llm.ErrContextFull):
				finish = FinishContextFull
			case errors.Is(err, llm.ErrDone) && sess.StoppedOnToken():
				finish = FinishStop
			case errors.Is(err, llm.ErrDone) && sess.Remaining() == 0:
				finish = FinishLength
			case errors.Is(err, llm.ErrDone):
				finish = FinishStop
			default:
				return err
			}
			continue
		}
		piece, err := rt.Piece(tok)
		if err != nil {
			return err
		}
		out, hit := stops.Push(string(asm.Write(piece)))
		if err := g.emit(out); err != nil {
			return err
		}
		if hit {
			finish = FinishStop
			asm = llm.UTF8Assembler{}
		}
	}
	if tail := asm.Flush(); len(tail) > 0 {
		out, _ := stops.Push(string(tail))
		if err := g.emit(out); err != nil {
			return err
		}
	}
	if err := g.emit(stops.Flush()); err != nil {
		return err
	}

	usage := types.Usage{
		PromptTokens:     sess.InputTokenCount(),
		CompletionTokens: sess.Generated(),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	logger.Debug().Str("model", modelID).Str("finish_reason", finish).
		Int("prompt_tokens", usage.PromptTokens).Int("completion_tokens", usage.CompletionTokens).
		Dur("dur", time.Since(start)).Msg("generation done")
	return g.done(finish, usage)
}

func validateInferRequest(req types.InferRequest) error {
	hasPrompt := strings.TrimSpace(req.Prompt) != ""
	switch {
	case hasPrompt && len(req.Messages) > 0:
		return errors.New("set either prompt or messages, not both")
	case !hasPrompt && len(req.Messages) == 0:
		return errors.New("prompt or messages is required")
	case req.MaxTokens < 0:
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

// setPrompt formats and tokenizes the request's prompt into sess.
func (m *Manager) setPrompt(rt *llm.Runtime, sess *llm.Session, req types.InferRequest, modelFormat string) error {
	if len(req.Messages) == 0 {
		return rt.SetPrompt(sess, req.Prompt)
	}
	style, err := m.chatStyle(req.Format, modelFormat)
	if err != nil {
		return err
	}
	msgs := make([]chat.Message, 0, len(req.Messages))
	for _, cm := range req.Messages {
		msgs = append(msgs, chat.Message{Role: chat.Role(strings.ToLower(cm.Role)), Content: cm.Content})
	}
	return rt.SetPromptFromMessages(sess, msgs, style)
}

// chatStyle picks the request's format, then the model's, then the default.
func (m *Manager) chatStyle(reqFormat, modelFormat string) (chat.Style, error) {
	if reqFormat != "" {
		return chat.ParseStyle(reqFormat)
	}
	if modelFormat != "" {
		if st, err := chat.ParseStyle(modelFormat); err == nil {
			return st, nil
		}
	}
	return m.defaultFormat, nil
}

// samplingFor applies per-request sampling overrides to the configured
// parameters. ok is false when the request overrides nothing.
func (m *Manager) samplingFor(req types.InferRequest) (sp engine.SamplerParams, ok bool) {
	sp = m.params.Sampling
	if req.Temperature > 0 {
		sp.Temperature, ok = float32(req.Temperature), true
	}
	if req.TopP > 0 {
		sp.TopP, ok = float32(req.TopP), true
	}
	if req.TopK > 0 {
		sp.TopK, ok = req.TopK, true
	}
	if req.Seed != 0 {
		sp.Seed, ok = uint32(req.Seed), true
	}
	if req.RepeatPenalty > 0 {
		sp.RepeatPenalty, ok = float32(req.RepeatPenalty), true
	}
	return sp, ok
}

// generation writes the NDJSON stream of one request.
type generation struct {
	w       io.Writer
	flush   func()
	stream  bool
	content strings.Builder
}

func (g *generation) emit(text string) error {
	if text == "" {
		return nil
	}
	g.content.WriteString(text)
	if !g.stream {
		return nil
	}
	return g.writeLine(types.TokenLine{Token: text})
}

func (g *generation) done(finish string, usage types.Usage) error {
	return g.writeLine(types.InferDone{
		Done:         true,
		Content:      g.content.String(),
		FinishReason: finish,
		Usage:        usage,
	})
}

func (g *generation) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := g.w.Write(append(b, '\n')); err != nil {
		return err
	}
	if g.flush != nil {
		g.flush()
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"stepllm/internal/common/fsutil"
	"stepllm/internal/llm"
)

// Finish reasons reported by the local generation commands.
const (
	finishStop        = "stop"
	finishLength      = "length"
	finishContextFull = "context_full"
	finishNewline     = "newline"
)

type genOptions struct {
	model       string
	maxTokens   int
	stopNewline bool
}

func (o *genOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.model, "model", "m", "", "Model id from the models dir, or a path to a .gguf file")
	f.IntVarP(&o.maxTokens, "max-tokens", "n", 0, "Stop after this many tokens (0 uses the configured budget)")
	f.BoolVar(&o.stopNewline, "stop-newline", false, "Stop at the first generated newline")
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		o      genOptions
		prompt string
	)
	cmd := &cobra.Command{
		Use:     "generate",
		Short:   "Generate a completion for a raw prompt",
		Example: "  stepllm generate -m tinyllama.Q4_0.gguf -p 'Once upon a time' -n 64",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return errors.New("--prompt is required")
			}
			return a.withRuntime(o.model, func(rt *llm.Runtime, sess *llm.Session) error {
				if err := rt.SetPrompt(sess, prompt); err != nil {
					return err
				}
				return a.runGeneration(cmd.Context(), cmd.OutOrStdout(), rt, sess, o)
			})
		},
	}
	o.register(cmd)
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt text")
	return cmd
}

// resolveModelPath maps a model id or file path to a file path. An empty id
// selects the configured default model.
func (a *app) resolveModelPath(id string) (string, error) {
	if id == "" {
		id = a.cfg.DefaultModel
	}
	if id == "" {
		return "", errors.New("no model given and no default model configured")
	}
	if p, err := fsutil.ResolvePath(id); err == nil && fsutil.IsRegularFile(p) {
		return p, nil
	}
	models, err := a.models()
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if m.ID == id {
			return m.Path, nil
		}
	}
	return "", fmt.Errorf("model not found: %s", id)
}

// withRuntime loads a model, runs fn with a fresh runtime and session, and
// frees everything afterwards.
func (a *app) withRuntime(modelID string, fn func(*llm.Runtime, *llm.Session) error) (err error) {
	path, err := a.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	backend := a.engineBackend()
	if err := backend.Available(); err != nil {
		return err
	}
	start := time.Now()
	model, err := backend.LoadModel(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", llm.ErrLoadFailure, path, err)
	}
	defer func() {
		if cerr := model.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	rt, err := llm.Init(backend, model, a.cfg.GenerationParams())
	if err != nil {
		return err
	}
	defer rt.Close()
	a.log.Debug().Str("model", path).Int("n_ctx", rt.ContextSize()).Dur("dur", time.Since(start)).Msg("model loaded")

	sess := llm.NewSession()
	defer sess.Close()
	return fn(rt, sess)
}

// runGeneration steps sess until it finishes, writing whole UTF-8 text to w.
func (a *app) runGeneration(ctx context.Context, w io.Writer, rt *llm.Runtime, sess *llm.Session, o genOptions) error {
	if o.maxTokens > 0 {
		sess.SetBudget(o.maxTokens)
	}
	start := time.Now()
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
				finish = finishContextFull
			case errors.Is(err, llm.ErrDone) && sess.StoppedOnToken():
				finish = finishStop
			case errors.Is(err, llm.ErrDone) && sess.Remaining() == 0:
				finish = finishLength
			case errors.Is(err, llm.ErrDone):
				finish = finishStop
			default:
				return err
			}
			continue
		}
		piece, err := rt.Piece(tok)
		if err != nil {
			return err
		}
		if o.stopNewline {
			if i := bytes.IndexByte(piece, '\n'); i >= 0 {
				piece = piece[:i]
				finish = finishNewline
			}
		}
		if _, err := w.Write(asm.Write(piece)); err != nil {
			return err
		}
	}
	if _, err := w.Write(append(asm.Flush(), '\n')); err != nil {
		return err
	}
	dur := time.Since(start)
	ev := a.log.Info().Str("finish_reason", finish).
		Int("prompt_tokens", sess.InputTokenCount()).
		Int("completion_tokens", sess.Generated()).
		Dur("dur", dur)
	if s := dur.Seconds(); s > 0 {
		ev = ev.Float64("tokens_per_sec", float64(sess.Generated())/s)
	}
	ev.Msg("generation done")
	return nil
}

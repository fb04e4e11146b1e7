//go:build !llama

package engine

// This file provides a no-native stub for the llama backend. It is compiled
// when the 'llama' build tag is NOT set, keeping default builds free of
// runtime library requirements. The real backend lives in yzma.go.

import "fmt"

type llamaBackend struct {
	libPath string
}

// NewLlamaBackend returns the llama.cpp backend. In this build it refuses to
// load models.
func NewLlamaBackend(libPath string) Backend {
	return &llamaBackend{libPath: libPath}
}

func (b *llamaBackend) Name() string { return "llama.cpp (not built)" }

func (b *llamaBackend) Available() error {
	return fmt.Errorf("%w: llama support not built (missing 'llama' build tag)", ErrUnavailable)
}

func (b *llamaBackend) LoadModel(path string) (Model, error) {
	return nil, b.Available()
}

func (b *llamaBackend) NewContext(m Model, p ContextParams) (Context, error) {
	return nil, b.Available()
}

func (b *llamaBackend) NewSampler(m Model, p SamplerParams) (Sampler, error) {
	return nil, b.Available()
}

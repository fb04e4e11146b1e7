package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stepllm/internal/engine/enginetest"
	"stepllm/pkg/types"
)

// createModelFile writes a placeholder model file and returns its path. The
// scripted backend never reads it; it only has to exist for sanity checks.
func createModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return p
}

// newTestManager returns a manager over a scripted backend with two models,
// "m" (default) and "n".
func newTestManager(t *testing.T, b *enginetest.Backend, mutate ...func(*ManagerConfig)) *Manager {
	t.Helper()
	dir := t.TempDir()
	cfg := ManagerConfig{
		Registry: []types.Model{
			{ID: "m", Path: createModelFile(t, dir, "m.gguf")},
			{ID: "n", Path: createModelFile(t, dir, "n.gguf")},
		},
		DefaultModel: "m",
		Backend:      b,
		MaxWait:      time.Second,
		DrainTimeout: 200 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// errWriter writes once, then returns an error on subsequent writes.
type errWriter struct{ wrote int }

func (e *errWriter) Write(p []byte) (int, error) {
	if e.wrote == 0 {
		e.wrote += len(p)
		return len(p), nil
	}
	return 0, errors.New("write fail")
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// parseNDJSON splits an /infer stream into its token lines and final line.
func parseNDJSON(t *testing.T, data []byte) ([]string, types.InferDone) {
	t.Helper()
	var toks []string
	var done types.InferDone
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.Contains(line, []byte(`"done"`)) {
			if err := json.Unmarshal(line, &done); err != nil {
				t.Fatalf("final line %q: %v", line, err)
			}
			continue
		}
		var tl types.TokenLine
		if err := json.Unmarshal(line, &tl); err != nil {
			t.Fatalf("token line %q: %v", line, err)
		}
		toks = append(toks, tl.Token)
	}
	if !done.Done {
		t.Fatalf("stream has no final line: %s", data)
	}
	return toks, done
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

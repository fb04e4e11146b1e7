package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"stepllm/internal/engine"
	"stepllm/internal/engine/enginetest"
	"stepllm/internal/llm"
	"stepllm/pkg/types"
)

func TestNewWithConfigDefaults(t *testing.T) {
	m := NewWithConfig(ManagerConfig{Backend: enginetest.NewBackend(64, 8)})
	if m.maxQueueDepth != defaultMaxQueueDepth {
		t.Fatalf("expected default maxQueueDepth=%d got %d", defaultMaxQueueDepth, m.maxQueueDepth)
	}
	if m.maxWait != defaultMaxWait {
		t.Fatalf("expected default maxWait=%v got %v", defaultMaxWait, m.maxWait)
	}
	if m.drainTimeout != defaultDrainTimeout {
		t.Fatalf("expected default drainTimeout=%v got %v", defaultDrainTimeout, m.drainTimeout)
	}
	if m.maxInstances != defaultMaxInstances {
		t.Fatalf("expected default maxInstances=%d got %d", defaultMaxInstances, m.maxInstances)
	}
	if m.params.BatchSize != llm.DefaultParams().BatchSize {
		t.Fatalf("expected default generation params, got %+v", m.params)
	}
	if m.idle != nil {
		t.Fatalf("idle unload should be disabled by default")
	}
}

func TestNewWithConfig_NilBackendUsesLlama(t *testing.T) {
	m := NewWithConfig(ManagerConfig{})
	if m.backend == nil {
		t.Fatalf("expected a default backend")
	}
}

func TestListModelsReturnsCopy(t *testing.T) {
	reg := []types.Model{{ID: "a"}, {ID: "b"}}
	m := NewWithConfig(ManagerConfig{Registry: reg, Backend: enginetest.NewBackend(64, 8)})
	out := m.ListModels()
	if len(out) != 2 {
		t.Fatalf("expected 2 got %d", len(out))
	}
	// mutate returned slice and ensure internal registry remains intact
	out[0].ID = "z"
	out2 := m.ListModels()
	if out2[0].ID != "a" {
		t.Fatalf("registry mutated via returned slice")
	}
}

func TestReadyReflectsInstance(t *testing.T) {
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	if m.Ready() {
		t.Fatalf("expected not ready initially")
	}
	if err := m.EnsureInstance(testCtx(t), "m"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !m.Ready() {
		t.Fatalf("expected ready after ensure")
	}
	snap := m.Snapshot()
	if snap.State != StateReady || snap.CurrentModel == nil || snap.CurrentModel.ID != "m" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestEnsureInstance_EmptyIDUsesDefault(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	m := newTestManager(t, b)
	if err := m.EnsureInstance(testCtx(t), ""); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	m.mu.RLock()
	_, ok := m.instances["m"]
	m.mu.RUnlock()
	if !ok {
		t.Fatalf("default model not loaded")
	}

	noDefault := newTestManager(t, b, func(c *ManagerConfig) { c.DefaultModel = "" })
	if err := noDefault.EnsureInstance(testCtx(t), ""); err != nil {
		t.Fatalf("expected no-op without default, got %v", err)
	}
}

func TestEnsureInstance_ModelNotFound(t *testing.T) {
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	err := m.EnsureInstance(testCtx(t), "missing")
	if !IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestEnsureInstance_BackendUnavailable(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	b.Unavail = fmt.Errorf("%w: no libllama", engine.ErrUnavailable)
	m := newTestManager(t, b)
	err := m.EnsureInstance(testCtx(t), "m")
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
	if m.Ready() {
		t.Fatalf("should not be ready")
	}
}

func TestEnsureInstance_LoadFailure(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	b.LoadErr = errors.New("bad magic")
	m := newTestManager(t, b)
	pub := NewMemoryPublisher()
	m.SetEventPublisher(pub)

	err := m.EnsureInstance(testCtx(t), "m")
	if !errors.Is(err, llm.ErrLoadFailure) || !errors.Is(err, b.LoadErr) {
		t.Fatalf("expected wrapped load failure, got %v", err)
	}
	snap := m.Snapshot()
	if snap.State != StateError || snap.Err == "" {
		t.Fatalf("expected error state, got %+v", snap)
	}
	m.mu.RLock()
	n := len(m.instances)
	m.mu.RUnlock()
	if n != 0 {
		t.Fatalf("failed instance left behind")
	}
	if !pub.Has("ensure_error", "m") {
		t.Fatalf("expected ensure_error event, got %v", pub.Names())
	}

	// a later attempt can succeed
	b.LoadErr = nil
	if err := m.EnsureInstance(testCtx(t), "m"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestEnsureInstance_ContextFailureClosesModel(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	b.ContextErr = errors.New("kv alloc")
	m := newTestManager(t, b)
	err := m.EnsureInstance(testCtx(t), "m")
	if !errors.Is(err, llm.ErrContextCreation) {
		t.Fatalf("expected context creation error, got %v", err)
	}
	if models := b.Models(); len(models) != 1 || !models[0].Closed() {
		t.Fatalf("model should be freed after a failed init")
	}
}

func TestEnsureInstance_ConcurrentCallersLoadOnce(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	m := newTestManager(t, b)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.EnsureInstance(testCtx(t), "m")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if n := len(b.Models()); n != 1 {
		t.Fatalf("expected a single load, got %d", n)
	}
	if got := m.Status().LoadsTotal; got != 1 {
		t.Fatalf("LoadsTotal=%d", got)
	}
}

func TestEnsureInstance_EvictsLeastRecentlyUsed(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	m := newTestManager(t, b)
	pub := NewMemoryPublisher()
	m.SetEventPublisher(pub)
	ctx := testCtx(t)

	if err := m.EnsureInstance(ctx, "m"); err != nil {
		t.Fatalf("ensure m: %v", err)
	}
	if err := m.EnsureInstance(ctx, "n"); err != nil {
		t.Fatalf("ensure n: %v", err)
	}
	m.mu.RLock()
	_, hasM := m.instances["m"]
	_, hasN := m.instances["n"]
	m.mu.RUnlock()
	if hasM || !hasN {
		t.Fatalf("expected m evicted and n loaded (m=%v n=%v)", hasM, hasN)
	}
	if !b.Models()[0].Closed() || !b.Contexts()[0].Closed() {
		t.Fatalf("evicted model and context must be freed")
	}
	if st := m.Status(); st.EvictionsTotal != 1 || len(st.Instances) != 1 {
		t.Fatalf("unexpected status after eviction: %+v", st)
	}
	if !pub.Has("evicted", "m") {
		t.Fatalf("expected evicted event, got %v", pub.Names())
	}
}

func TestEnsureInstance_BusyInstanceNotEvicted(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	m := newTestManager(t, b)
	ctx := testCtx(t)
	if err := m.EnsureInstance(ctx, "m"); err != nil {
		t.Fatalf("ensure m: %v", err)
	}
	release, err := m.beginGeneration(ctx, "m")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer release()
	if err := m.EnsureInstance(ctx, "n"); err != nil {
		t.Fatalf("ensure n: %v", err)
	}
	if got := len(m.Status().Instances); got != 2 {
		t.Fatalf("expected both instances while m is busy, got %d", got)
	}
}

func TestEnsureInstance_CanceledContext(t *testing.T) {
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.EnsureInstance(ctx, "m"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStatusCountsWarmupAndDraining(t *testing.T) {
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	m.mu.Lock()
	a := newInstance("a", 2)
	d := newInstance("b", 2)
	d.State = StateDraining
	m.instances["a"] = a
	m.instances["b"] = d
	m.mu.Unlock()
	st := m.Status()
	if st.WarmupsInProgress != 1 {
		t.Fatalf("expected WarmupsInProgress=1, got %d", st.WarmupsInProgress)
	}
	if st.DrainingCount != 1 {
		t.Fatalf("expected DrainingCount=1, got %d", st.DrainingCount)
	}
	if st.Instances[0].ModelID != "a" || st.Instances[0].MaxQueueDepth != 2 {
		t.Fatalf("unexpected instance status: %+v", st.Instances[0])
	}
	m.mu.Lock()
	delete(m.instances, "a")
	delete(m.instances, "b")
	m.mu.Unlock()
}

func TestStatusReportsRuntime(t *testing.T) {
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	if err := m.EnsureInstance(testCtx(t), "m"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	st := m.Status()
	if st.Backend != "enginetest" || st.MaxInstances != 1 || st.State != string(StateReady) {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(st.Instances) != 1 {
		t.Fatalf("expected one instance, got %+v", st.Instances)
	}
	is := st.Instances[0]
	if is.ContextSize != 64 || is.BatchSize != 8 || is.State != "ready" {
		t.Fatalf("unexpected instance status: %+v", is)
	}
	if st.ServerTimeUnix == 0 {
		t.Fatalf("server time not set")
	}
}

func TestManagerCloseFreesInstances(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	m := newTestManager(t, b, func(c *ManagerConfig) { c.MaxInstances = 2 })
	ctx := testCtx(t)
	for _, id := range []string{"m", "n"} {
		if err := m.EnsureInstance(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, mdl := range b.Models() {
		if !mdl.Closed() || !b.Contexts()[i].Closed() {
			t.Fatalf("instance %d not freed", i)
		}
	}
	if m.Ready() {
		t.Fatalf("not ready after Close")
	}
}

func TestEventPublisher_EnsureAndUnload_EmitsEvents(t *testing.T) {
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	pub := NewMemoryPublisher()
	m.SetEventPublisher(pub)
	if err := m.EnsureInstance(context.Background(), "m"); err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if err := m.Unload("m"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	for _, name := range []string{"ensure_start", "ensure_ready", "unload_start", "unload_done"} {
		if !pub.Has(name, "m") {
			t.Fatalf("expected event %q to be published; got events: %v", name, pub.Names())
		}
	}
}

func TestPublishersFanOut(t *testing.T) {
	a, b := NewMemoryPublisher(), NewMemoryPublisher()
	Publishers{a, b}.Publish(Event{Name: "x", ModelID: "m"})
	if !a.Has("x", "m") || !b.Has("x", "m") {
		t.Fatalf("event not fanned out")
	}
	m := newTestManager(t, enginetest.NewBackend(64, 8))
	m.SetEventPublisher(nil)
	m.publish("noop", "m", nil)
}

func TestSanityCheck(t *testing.T) {
	b := enginetest.NewBackend(64, 8)
	m := newTestManager(t, b, func(c *ManagerConfig) {
		c.Registry = append(c.Registry, types.Model{ID: "gone", Path: "/does/not/exist.gguf"})
	})
	r := m.SanityCheck()
	if !r.Available || r.Backend != "enginetest" || r.Error != "" {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(r.MissingModels) != 1 || r.MissingModels[0] != "gone" {
		t.Fatalf("expected missing model, got %+v", r.MissingModels)
	}

	b.Unavail = errors.New("no library")
	if r := m.SanityCheck(); r.Available || r.Error == "" {
		t.Fatalf("expected unavailable report, got %+v", r)
	}
}

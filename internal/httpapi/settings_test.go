package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestSetMaxBodyBytes(t *testing.T) {
	t.Cleanup(func() { SetMaxBodyBytes(0) })
	for _, c := range []struct{ in, want int64 }{
		{-1, 1 << 20},
		{0, 1 << 20},
		{1234, 1234},
	} {
		SetMaxBodyBytes(c.in)
		if maxBodyBytes != c.want {
			t.Fatalf("SetMaxBodyBytes(%d): got %d, want %d", c.in, maxBodyBytes, c.want)
		}
	}
}

func TestSetInferTimeoutSeconds(t *testing.T) {
	t.Cleanup(func() { SetInferTimeoutSeconds(0) })
	for _, c := range []struct{ in, want int64 }{
		{-5, 0},
		{3, 3},
		{0, 0},
	} {
		SetInferTimeoutSeconds(c.in)
		if inferTimeout != c.want {
			t.Fatalf("SetInferTimeoutSeconds(%d): got %d, want %d", c.in, inferTimeout, c.want)
		}
	}
}

func TestSetBaseContext_NilFallsBackToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	cancel()
	//nolint:staticcheck // nil selects the background context
	SetBaseContext(nil)
	t.Cleanup(func() { SetBaseContext(context.Background()) })
	if serverBaseCtx.Err() != nil {
		t.Fatalf("base context still canceled after reset")
	}
}

func TestJoinContexts(t *testing.T) {
	wait := func(t *testing.T, ctx context.Context, want bool) {
		t.Helper()
		select {
		case <-ctx.Done():
			if !want {
				t.Fatalf("joined context canceled early")
			}
		case <-time.After(100 * time.Millisecond):
			if want {
				t.Fatalf("joined context not canceled")
			}
		}
	}

	t.Run("first parent", func(t *testing.T) {
		a, ac := context.WithCancel(context.Background())
		j, stop := joinContexts(a, context.Background())
		defer stop()
		wait(t, j, false)
		ac()
		wait(t, j, true)
	})
	t.Run("second parent", func(t *testing.T) {
		b, bc := context.WithCancel(context.Background())
		j, stop := joinContexts(context.Background(), b)
		defer stop()
		bc()
		wait(t, j, true)
	})
	t.Run("cancel func", func(t *testing.T) {
		j, stop := joinContexts(context.Background(), context.Background())
		stop()
		wait(t, j, true)
	})
}

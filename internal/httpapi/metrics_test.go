package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := httpRequestsTotal.WithLabelValues("/models/{id}", http.MethodGet, "418")
	before := testutil.ToFloat64(counter)
	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/models/"+id, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("status %d", rr.Code)
		}
	}
	if got := testutil.ToFloat64(counter); got != before+3 {
		t.Fatalf("requests_total{path=/models/{id}} = %v, want %v", got, before+3)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/models/a", http.MethodGet, "418")); got != 0 {
		t.Fatalf("raw path leaked into labels: %v", got)
	}
}

func TestMetricsMiddleware_UnroutedUsesPathAndDefaultStatus(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	counter := httpRequestsTotal.WithLabelValues("/plain", http.MethodGet, "200")
	before := testutil.ToFloat64(counter)
	MetricsMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("requests_total = %v, want %v", got, before+1)
	}
}

func TestMetricsMiddleware_InflightGauge(t *testing.T) {
	base := testutil.ToFloat64(httpInflight)
	var during float64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(httpInflight)
	})
	MetricsMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if during != base+1 {
		t.Fatalf("inflight during request = %v, want %v", during, base+1)
	}
	if got := testutil.ToFloat64(httpInflight); got != base {
		t.Fatalf("inflight after request = %v, want %v", got, base)
	}
}

func TestStatusRecorderFlushes(t *testing.T) {
	rr := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rr, status: http.StatusOK}
	sr.Flush()
	if !rr.Flushed {
		t.Fatalf("flush not forwarded")
	}
	if sr.Unwrap() != rr {
		t.Fatalf("Unwrap did not return the wrapped writer")
	}
}

func TestIncrementBackpressure(t *testing.T) {
	for _, reason := range []string{"", "unload"} {
		label := reason
		if label == "" {
			label = "unspecified"
		}
		before := testutil.ToFloat64(backpressureTotal.WithLabelValues(label))
		IncrementBackpressure(reason)
		if got := testutil.ToFloat64(backpressureTotal.WithLabelValues(label)); got != before+1 {
			t.Fatalf("backpressure_total{reason=%q} = %v, want %v", label, got, before+1)
		}
	}
}

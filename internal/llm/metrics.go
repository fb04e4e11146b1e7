package llm

import "github.com/prometheus/client_golang/prometheus"

var (
	generationTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepllm",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Tokens handled by the generation core, by kind (prompt or sampled)",
		},
		[]string{"kind"},
	)

	generationSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stepllm",
			Subsystem: "generation",
			Name:      "steps_total",
			Help:      "Step calls by outcome",
		},
		[]string{"status"},
	)

	decodeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stepllm",
			Subsystem: "generation",
			Name:      "decode_seconds",
			Help:      "Duration of a single decode chunk in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	promptTokens  = generationTokens.WithLabelValues("prompt")
	sampledTokens = generationTokens.WithLabelValues("sampled")
)

func init() {
	prometheus.MustRegister(generationTokens, generationSteps, decodeSeconds)
}

// stepStatus labels a Step outcome for metrics.
func stepStatus(err error) string {
	switch {
	case err == nil:
		return "token"
	case err == ErrDone:
		return "done"
	case err == ErrContextFull:
		return "context_full"
	case IsDecodeFailure(err):
		return "decode_failed"
	}
	return "error"
}

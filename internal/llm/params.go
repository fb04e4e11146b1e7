package llm

import "stepllm/internal/engine"

// Token budget values for Params.Predict.
const (
	PredictUnbounded = -1
	PredictUntilFull = -2
)

// promptMargin is kept free after the prompt so generation can continue.
const promptMargin = 4

// Params configures a Runtime.
type Params struct {
	// ContextSize is the context window in tokens; 0 uses the model default.
	ContextSize int
	// BatchSize caps the tokens pushed per decode call.
	BatchSize int
	Threads   int
	// Predict is the per-prompt token budget: PredictUnbounded,
	// PredictUntilFull, or a fixed count >= 0.
	Predict  int
	Sampling engine.SamplerParams
	// Warmup runs one throwaway decode at init.
	Warmup bool
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		BatchSize: 512,
		Predict:   PredictUnbounded,
		Sampling:  engine.DefaultSamplerParams(),
	}
}

// budget converts a Predict value into a session budget (-1 = unbounded).
// Running until the context is full needs no counter: ContextFull ends it.
func budget(predict int) int {
	if predict < 0 {
		return -1
	}
	return predict
}

package types

// ChatMessage is one role-tagged turn of a chat transcript.
type ChatMessage struct {
	// Role of the speaker: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Text of the turn.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// InferRequest represents an inference request payload. Exactly one of
// Prompt and Messages must be set.
type InferRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: tinyllama-q4
	Model string `json:"model,omitempty" example:"tinyllama-q4"`
	// Raw prompt text to generate a completion for.
	// example: USER: Write a haiku about the ocean.\nASSISTANT:
	Prompt string `json:"prompt,omitempty" example:"USER: Write a haiku about the ocean.\nASSISTANT: "`
	// Chat transcript, formatted into a prompt server-side.
	Messages []ChatMessage `json:"messages,omitempty"`
	// Chat format used for Messages (turn or llama2). Defaults to turn.
	// example: llama2
	Format string `json:"format,omitempty" example:"llama2"`
	// If true, stream results as NDJSON tokens. When false, the server may still stream internally but buffer.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate; 0 uses the server default.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Optional stop sequences. Generation stops when any sequence is matched;
	// the sequence itself is not returned.
	// example: ["\n\n","END"]
	Stop []string `json:"stop,omitempty" example:"[\"\\n\\n\",\"END\"]"`
	// Random seed for reproducibility; 0 or omitted lets the server choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// Penalty for repeating recent tokens; 1.0 disables it.
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
}

// TokenLine is one streamed NDJSON line carrying generated text.
type TokenLine struct {
	// example: Hello
	Token string `json:"token" example:"Hello"`
}

// Usage reports token accounting for a completed generation.
type Usage struct {
	// example: 12
	PromptTokens int `json:"prompt_tokens" example:"12"`
	// example: 64
	CompletionTokens int `json:"completion_tokens" example:"64"`
	// example: 76
	TotalTokens int `json:"total_tokens" example:"76"`
}

// InferDone is the final NDJSON line of a generation.
type InferDone struct {
	// Always true.
	Done bool `json:"done" example:"true"`
	// Full generated text (after stop sequence trimming).
	Content string `json:"content"`
	// Why generation ended: stop, length or context_full.
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
	Usage        Usage  `json:"usage"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// SwitchRequest asks the server to load a model in the background.
type SwitchRequest struct {
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
}

// SwitchResponse carries the id of an accepted background switch.
type SwitchResponse struct {
	// example: op-1
	OpID string `json:"op_id" example:"op-1"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// InstanceStatus summarizes a loaded instance for /status.
type InstanceStatus struct {
	// ID of the model this instance serves.
	// example: tinyllama-q4
	ModelID string `json:"model_id" example:"tinyllama-q4"`
	// Current lifecycle state of the instance (loading, ready, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this instance served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Context window of the decoding context in tokens.
	// example: 4096
	ContextSize int `json:"context_size" example:"4096"`
	// Largest decode chunk in tokens.
	// example: 512
	BatchSize int `json:"batch_size" example:"512"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight requests currently being processed.
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded/managed instances.
	Instances []InstanceStatus `json:"instances"`
	// Inference backend name.
	// example: llama
	Backend string `json:"backend" example:"llama"`
	// Maximum number of models kept loaded at once.
	// example: 1
	MaxInstances int `json:"max_instances" example:"1"`
	// Optional top-level error message.
	Error string `json:"error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of evictions performed to make room for another model.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total number of model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of idle unloads.
	// example: 3
	IdleUnloadsTotal uint64 `json:"idle_unloads_total" example:"3"`
	// Overall manager state (e.g., loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Number of instances currently warming up (loading).
	// example: 1
	WarmupsInProgress int `json:"warmups_in_progress" example:"1"`
	// Number of instances currently draining (unload in progress).
	// example: 1
	DrainingCount int `json:"draining_count" example:"1"`
}

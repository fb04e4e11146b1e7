package types

// Model represents a discoverable or loadable LLM model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: tinyllama-q4
	ID string `json:"id" yaml:"id" toml:"id" example:"tinyllama-q4"`
	// Human-friendly name.
	// example: TinyLlama (Q4)
	Name string `json:"name" yaml:"name" toml:"name" example:"TinyLlama (Q4)"`
	// Absolute path to the GGUF file on disk.
	// example: /home/user/models/TinyLlama.Q4_K_M.gguf
	Path string `json:"path" yaml:"path" toml:"path" example:"/home/user/models/TinyLlama.Q4_K_M.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant" yaml:"quant" toml:"quant" example:"Q4_K_M"`
	// Optional family (e.g., llama, mistral, phi).
	// example: llama
	Family string `json:"family,omitempty" yaml:"family,omitempty" toml:"family,omitempty" example:"llama"`
	// Preferred chat format for this model, when known (turn or llama2).
	// example: llama2
	ChatFormat string `json:"chat_format,omitempty" yaml:"chat_format,omitempty" toml:"chat_format,omitempty" example:"llama2"`
}

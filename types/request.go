package types

// GenerationRequest is the unified request sent to a text-generation backend.
type GenerationRequest struct {
	Prompt            string  `json:"text_prompt"`
	SystemMessage     string  `json:"system_message,omitempty"`
	Model             string  `json:"model,omitempty"`
	Temperature       float32 `json:"temperature,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	PreferredProvider string  `json:"preferred_provider,omitempty"`
	Multimodal        bool    `json:"multimodal,omitempty"`
	ImageBytes        []byte  `json:"image_bytes,omitempty"`
	ImageMimeType     string  `json:"image_mime_type,omitempty"`
}

// GenerationResponse is the unified response returned by a backend call.
// Error carries a user-safe message only; the underlying cause lives in logs.
type GenerationResponse struct {
	Content         string     `json:"content"`
	Error           string     `json:"error,omitempty"`
	ProviderLabel   string     `json:"provider_label,omitempty"`
	Evidences       []Evidence `json:"evidences,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	InteractionType string     `json:"interaction_type,omitempty"`
}

// TokenUsage reports token consumption for one backend call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

package ai

import (
	"context"
	"fmt"
)

// LLMProvider is the interface every AI backend implements
type LLMProvider interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (*CompletionResponse, error)
	GetName() string
	IsAvailable(ctx context.Context) bool
}

// CompletionOptions holds options for text completion requests
type CompletionOptions struct {
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// CompletionResponse represents the response from a completion request
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	TokensUsed   int    `json:"tokens_used"`
}

// ProviderError represents an error from an AI provider
type ProviderError struct {
	Provider string `json:"provider"`
	Type     string `json:"type"`
	Message  string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Type, e.Message)
}

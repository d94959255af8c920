package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/havenhub/haven-backend-go/internal/ai"
	"github.com/havenhub/haven-backend-go/internal/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements the LLMProvider interface against the OpenAI
// chat completions API.
type OpenAIProvider struct {
	client       *http.Client
	logger       *logrus.Logger
	apiKey       string
	baseURL      string
	defaultModel string
	maxTokens    int
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(cfg config.AIConfig, logger *logrus.Logger) *OpenAIProvider {
	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		if parsed, err := time.ParseDuration(cfg.Timeout); err == nil && parsed > 0 {
			timeout = parsed
		}
	}
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		defaultModel: model,
		maxTokens:    cfg.MaxTokens,
	}
}

// GetName returns the provider name
func (o *OpenAIProvider) GetName() string {
	return "openai"
}

// IsAvailable checks if the provider is configured
func (o *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return o.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends a chat completion request and returns the first choice
func (o *OpenAIProvider) Complete(ctx context.Context, prompt string, opts ai.CompletionOptions) (*ai.CompletionResponse, error) {
	if o.apiKey == "" {
		return nil, &ai.ProviderError{Provider: "openai", Type: "auth", Message: "API key is required"}
	}

	model := opts.Model
	if model == "" {
		model = o.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.maxTokens
	}

	var messages []chatMessage
	if opts.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &ai.ProviderError{Provider: "openai", Type: "network", Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ai.ProviderError{Provider: "openai", Type: "network", Message: err.Error()}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, &ai.ProviderError{Provider: "openai", Type: "response", Message: fmt.Sprintf("invalid response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if parsed.Error != nil {
			message = parsed.Error.Message
		}
		return nil, &ai.ProviderError{Provider: "openai", Type: "api", Message: message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ai.ProviderError{Provider: "openai", Type: "response", Message: "no choices returned"}
	}

	o.logger.WithFields(logrus.Fields{
		"model":    parsed.Model,
		"tokens":   parsed.Usage.TotalTokens,
		"duration": time.Since(start),
	}).Debug("OpenAI completion finished")

	return &ai.CompletionResponse{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
		TokensUsed:   parsed.Usage.TotalTokens,
	}, nil
}

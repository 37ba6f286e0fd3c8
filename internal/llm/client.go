// Package llm provides the LLM client interface and provider implementations.
// Clients are transport only: routing, limits, and fallback live in the
// model manager.
package llm

import "context"

// Client defines the interface for LLM interactions.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Usage captures token usage metrics from a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// UsageFunc receives usage metadata after each successful completion.
type UsageFunc func(model string, usage Usage)

const defaultSystemPrompt = "You are a research assistant working on a mathematical framework. Answer precisely and without filler."

// =============================================================================
// OpenAI-compatible wire types (also used by local Ollama endpoints)
// =============================================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Package ai provides the model providers used by the MCQ pipeline:
// OpenAI for schema-constrained generation over a vector store and
// Anthropic for validation.
package ai

import "context"

// TaskType labels what a completion is for. It is used in logs and to
// attribute usage to the right provider bucket.
type TaskType int

const (
	TaskGeneration TaskType = iota
	TaskValidation
)

func (t TaskType) String() string {
	switch t {
	case TaskGeneration:
		return "generation"
	case TaskValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`

	// SourceRef restricts retrieval to one vector store. Providers without
	// retrieval ignore it.
	SourceRef string `json:"source_ref,omitempty"`

	// Schema, when set, asks the provider for strict JSON output matching it.
	Schema     map[string]any `json:"schema,omitempty"`
	SchemaName string         `json:"schema_name,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Usage returns the token accounting for this response.
func (r CompletionResponse) Usage() Usage {
	return Usage{
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens(),
	}
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	HealthCheck(ctx context.Context) error
}

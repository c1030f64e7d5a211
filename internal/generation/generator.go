// Package generation writes one topic's questions with the generation model,
// grounded in the chapter's vector store.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/ai"
	"github.com/p-n-ai/pai-mcq/internal/mcq"
	"github.com/p-n-ai/pai-mcq/internal/retry"
	"github.com/p-n-ai/pai-mcq/internal/rubric"
)

var (
	// ErrEmptyBatch is returned when the model produced no questions.
	ErrEmptyBatch = errors.New("generation returned no questions")
	// ErrItemCount is returned when the question count is outside the rubric bounds.
	ErrItemCount = errors.New("question count out of range")
)

// Topic is the topic to write questions for.
type Topic struct {
	Name        string
	Description string
}

// Request carries the chapter context for one topic.
type Request struct {
	ChapterNumber int
	ChapterTitle  string
	ClassLevel    string
	SubjectName   string
	SyllabusName  string
	Topic         Topic
	SourceRef     string
}

// Result is a generated batch plus the tokens it cost.
type Result struct {
	Items []mcq.Item
	Usage ai.Usage
}

// Generator calls the generation provider for one topic at a time.
type Generator struct {
	provider ai.Provider
	rubric   rubric.Rubric
	policy   retry.Policy
	model    string
}

// Option configures a Generator.
type Option func(*Generator)

// WithPolicy sets the rate-limit retry policy for the upstream call.
func WithPolicy(p retry.Policy) Option {
	return func(g *Generator) {
		g.policy = p
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(g *Generator) {
		g.model = model
	}
}

// New creates a Generator.
func New(provider ai.Provider, r rubric.Rubric, opts ...Option) *Generator {
	g := &Generator{
		provider: provider,
		rubric:   r,
		policy:   retry.Generation,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate writes questions for req.Topic. Only the upstream call is
// retried, and only on rate limiting; parse failures fail immediately.
// Usage is returned even when parsing fails.
func (g *Generator) Generate(ctx context.Context, req Request, notify func(attempt int, delay time.Duration, err error)) (Result, error) {
	completion := ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: SystemPrompt(g.rubric)},
			{Role: "user", Content: UserPrompt(req, g.rubric)},
		},
		Model:      g.model,
		Task:       ai.TaskGeneration,
		SourceRef:  req.SourceRef,
		Schema:     mcq.BatchSchema(),
		SchemaName: mcq.BatchSchemaName,
	}

	policy := g.policy
	policy.Name = "generation: " + req.Topic.Name
	if notify != nil {
		policy = policy.With(notify)
	}

	var resp ai.CompletionResponse
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		resp, err = g.provider.Complete(ctx, completion)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("generating %q: %w", req.Topic.Name, err)
	}

	res := Result{Usage: resp.Usage()}
	items, err := mcq.ParseBatch(resp.Content)
	if err != nil {
		return res, fmt.Errorf("parsing %q: %w", req.Topic.Name, err)
	}
	if len(items) == 0 {
		return res, fmt.Errorf("%q: %w", req.Topic.Name, ErrEmptyBatch)
	}
	if len(items) < g.rubric.MinQuestions || len(items) > g.rubric.MaxQuestions {
		return res, fmt.Errorf("%q: %w: got %d, want %d-%d",
			req.Topic.Name, ErrItemCount, len(items), g.rubric.MinQuestions, g.rubric.MaxQuestions)
	}

	slog.Info("topic generated",
		"topic", req.Topic.Name,
		"questions", len(items),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	res.Items = items
	return res, nil
}

// Package validation reviews generated questions with a second model and
// applies the reviewer's rewrites.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/ai"
	"github.com/p-n-ai/pai-mcq/internal/mcq"
	"github.com/p-n-ai/pai-mcq/internal/retry"
)

// DefaultMaxAttempts is the number of review passes per job.
const DefaultMaxAttempts = 2

// Hooks receive progress from a validation run. Nil fields are skipped.
type Hooks struct {
	Usage  func(ai.Usage)
	Log    func(msg string)
	Notify func(attempt int, delay time.Duration, err error)
}

// Failure records why a topic was excluded.
type Failure struct {
	Topic  string
	Reason string
}

// Outcome is the result of a validation run. Accepted keeps input order.
type Outcome struct {
	Accepted []mcq.TopicBatch
	Failed   []Failure
	// Unverified lists accepted topics whose final rewrites were never
	// re-reviewed because the attempt bound was reached.
	Unverified []string
}

// Validator runs the review loop.
type Validator struct {
	provider    ai.Provider
	policy      retry.Policy
	maxAttempts int
	model       string
}

// Option configures a Validator.
type Option func(*Validator)

// WithPolicy sets the rate-limit retry policy for each review call.
func WithPolicy(p retry.Policy) Option {
	return func(v *Validator) {
		v.policy = p
	}
}

// WithMaxAttempts sets the number of review passes.
func WithMaxAttempts(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxAttempts = n
		}
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(v *Validator) {
		v.model = model
	}
}

// New creates a Validator.
func New(provider ai.Provider, opts ...Option) *Validator {
	v := &Validator{
		provider:    provider,
		policy:      retry.Validation,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type topicState int

const (
	stateActive topicState = iota
	stateAccepted
	stateFailed
)

type topic struct {
	batch  mcq.TopicBatch
	state  topicState
	reason string
}

// Validate reviews every batch. Input batches are not modified. Any review
// call error aborts the run and is returned as is, after usage for
// completed calls has been reported.
func (v *Validator) Validate(ctx context.Context, batches []mcq.TopicBatch, hooks Hooks) (Outcome, error) {
	topics := make([]*topic, len(batches))
	for i, b := range batches {
		topics[i] = &topic{batch: b.Clone()}
	}

	for attempt := 1; attempt <= v.maxAttempts; attempt++ {
		active := 0
		for _, t := range topics {
			if t.state == stateActive {
				active++
			}
		}
		if active == 0 {
			break
		}
		hooks.log(fmt.Sprintf("Validation attempt %d/%d for %d topic(s)", attempt, v.maxAttempts, active))

		for _, t := range topics {
			if t.state != stateActive {
				continue
			}
			verdicts, err := v.review(ctx, t.batch, hooks)
			if err != nil {
				return Outcome{}, fmt.Errorf("validating %q (attempt %d): %w", t.batch.Topic, attempt, err)
			}
			v.apply(t, verdicts, hooks)
		}
	}

	var out Outcome
	for _, t := range topics {
		switch t.state {
		case stateAccepted:
			out.Accepted = append(out.Accepted, t.batch)
		case stateActive:
			// Rewritten on the last pass with no pass left to re-review.
			hooks.log(fmt.Sprintf("Topic %q accepted with unverified replacements", t.batch.Topic))
			out.Accepted = append(out.Accepted, t.batch)
			out.Unverified = append(out.Unverified, t.batch.Topic)
		case stateFailed:
			out.Failed = append(out.Failed, Failure{Topic: t.batch.Topic, Reason: t.reason})
		}
	}
	return out, nil
}

// apply folds one pass's verdicts into the topic. Verdicts for unknown
// indexes are ignored and missing verdicts count as approvals.
func (v *Validator) apply(t *topic, verdicts []mcq.Verdict, hooks Hooks) {
	byIndex := mcq.VerdictIndex(verdicts)

	var rejected []int
	for i := range t.batch.Items {
		if vd, ok := byIndex[i]; ok && vd.Rejected() {
			rejected = append(rejected, i)
		}
	}

	if len(rejected) == 0 {
		t.state = stateAccepted
		hooks.log(fmt.Sprintf("Topic %q approved (%d questions)", t.batch.Topic, len(t.batch.Items)))
		return
	}

	replaced := make(map[int]mcq.Item, len(rejected))
	for _, i := range rejected {
		vd := byIndex[i]
		if vd.Replacement.Empty() {
			t.fail(fmt.Sprintf("question %d rejected without replacement%s", i+1, reasonSuffix(vd.Reasons)))
			hooks.log(fmt.Sprintf("Topic %q failed validation: %s", t.batch.Topic, t.reason))
			return
		}
		item, err := mcq.NormalizeReplacement(t.batch.Items[i], *vd.Replacement)
		if err != nil {
			t.fail(fmt.Sprintf("question %d replacement unusable: %v", i+1, err))
			hooks.log(fmt.Sprintf("Topic %q failed validation: %s", t.batch.Topic, t.reason))
			return
		}
		replaced[i] = item
	}

	for i, item := range replaced {
		t.batch.Items[i] = item
	}
	hooks.log(fmt.Sprintf("Topic %q: applied %d replacement(s)", t.batch.Topic, len(replaced)))
}

func (t *topic) fail(reason string) {
	t.state = stateFailed
	t.reason = reason
}

func (v *Validator) review(ctx context.Context, batch mcq.TopicBatch, hooks Hooks) ([]mcq.Verdict, error) {
	req := ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: ReviewPrompt(batch)},
		},
		Model:      v.model,
		MaxTokens:  8192,
		Task:       ai.TaskValidation,
		Schema:     mcq.VerdictSchema(),
		SchemaName: mcq.VerdictSchemaName,
	}

	policy := v.policy
	policy.Name = "validation: " + batch.Topic
	if hooks.Notify != nil {
		policy = policy.With(hooks.Notify)
	}

	var resp ai.CompletionResponse
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		resp, err = v.provider.Complete(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if hooks.Usage != nil {
		hooks.Usage(resp.Usage())
	}

	verdicts, err := mcq.ParseVerdicts(resp.Content)
	if err != nil {
		return nil, err
	}
	slog.Debug("topic reviewed", "topic", batch.Topic, "verdicts", len(verdicts))
	return verdicts, nil
}

func (h Hooks) log(msg string) {
	if h.Log != nil {
		h.Log(msg)
	}
}

func reasonSuffix(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return ": " + strings.Join(reasons, "; ")
}

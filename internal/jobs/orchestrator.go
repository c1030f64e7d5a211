package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/ai"
	"github.com/p-n-ai/pai-mcq/internal/export"
	"github.com/p-n-ai/pai-mcq/internal/generation"
	"github.com/p-n-ai/pai-mcq/internal/mcq"
	"github.com/p-n-ai/pai-mcq/internal/persist"
	"github.com/p-n-ai/pai-mcq/internal/validation"
)

var (
	errAllGenerationFailed = errors.New("all topics failed generation")
	errAllValidationFailed = errors.New("all topics failed validation")
)

// Generator writes one topic's questions.
type Generator interface {
	Generate(ctx context.Context, req generation.Request, notify func(attempt int, delay time.Duration, err error)) (generation.Result, error)
}

// Validator reviews batches and applies rewrites.
type Validator interface {
	Validate(ctx context.Context, batches []mcq.TopicBatch, hooks validation.Hooks) (validation.Outcome, error)
}

// Persister stores validated batches.
type Persister interface {
	Persist(ctx context.Context, req persist.Request) (persist.Result, error)
}

// Retrier resumes failed jobs without regenerating questions.
type Retrier interface {
	RetryValidation(ctx context.Context, id string) (View, error)
	RetryPersistence(ctx context.Context, id string) (View, error)
}

var _ Retrier = (*Orchestrator)(nil)

// Orchestrator drives jobs through their lifecycle.
type Orchestrator struct {
	registry  *Registry
	executor  *Executor
	generator Generator
	validator Validator
	persister Persister
	newRand   func() *rand.Rand
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRand sets the source of randomness for answer balancing.
func WithRand(fn func() *rand.Rand) Option {
	return func(o *Orchestrator) {
		o.newRand = fn
	}
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(reg *Registry, exec *Executor, gen Generator, val Validator, p Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		executor:  exec,
		generator: gen,
		validator: val,
		persister: p,
		newRand:   func() *rand.Rand { return nil },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates p, creates a pending job and schedules it.
func (o *Orchestrator) Submit(_ context.Context, p Payload) (View, error) {
	p.Topics = append([]TopicSummary(nil), p.Topics...)
	if err := p.Validate(); err != nil {
		return View{}, err
	}
	if p.BookFingerprint == "" {
		p.BookFingerprint = Fingerprint(p.SourceRef, p.Subject.ID, p.ClassLevel, p.ChapterTitle)
	}

	id := o.registry.Create(p).JobID
	o.registry.Logf(id, "Job queued: chapter %d %q, %d topic(s)", p.ChapterNumber, p.ChapterTitle, len(p.Topics))

	o.executor.Go("job "+id, func(ctx context.Context) {
		defer o.recoverJob(id)
		o.Run(ctx, id)
	})

	queued, _ := o.registry.View(id)
	return queued, nil
}

// Run executes the full pipeline for a pending job. Every failure is
// recorded on the job rather than returned.
func (o *Orchestrator) Run(ctx context.Context, id string) {
	var p Payload
	_, err := o.registry.Update(id, func(j *Job) error {
		if j.Status != StatusPending {
			return fmt.Errorf("%w: run requires a pending job, got %s", ErrInvalidTransition, j.Status)
		}
		if err := j.transition(StatusProcessing); err != nil {
			return err
		}
		o.begin(j, "Job started")
		p = j.Payload
		return nil
	})
	if err != nil {
		slog.Error("job not started", "job_id", id, "error", err)
		return
	}

	batches, failed, err := o.generate(ctx, id, p)
	if _, uerr := o.registry.Update(id, func(j *Job) error {
		j.Summary.FailedTopics = failed
		if len(batches) > 0 {
			j.Snapshot = mcq.CloneBatches(batches)
		}
		return nil
	}); uerr != nil {
		slog.Error("recording generation failed", "job_id", id, "error", uerr)
	}
	if err != nil {
		o.fail(id, err)
		return
	}

	o.validateAndPersist(ctx, id, p, batches)
}

// RetryValidation re-runs review, balancing and persistence from the
// generated snapshot.
func (o *Orchestrator) RetryValidation(_ context.Context, id string) (View, error) {
	return o.retry(id, "validation",
		func(j *Job) bool { return j.AllowValidationRetry },
		func(j *Job) {
			j.Validated = nil
			j.Summary.FailedTopics = generationFailures(j.Summary.FailedTopics)
			j.Summary.UnverifiedTopics = nil
			j.Summary.AnswerDistribution = mcq.Distribution{}
		},
		o.resumeValidation,
	)
}

// RetryPersistence re-runs persistence. Batches that already passed review
// are stored as they are; otherwise review runs again first.
func (o *Orchestrator) RetryPersistence(_ context.Context, id string) (View, error) {
	return o.retry(id, "persistence",
		func(j *Job) bool { return j.AllowPersistenceRetry },
		func(*Job) {},
		o.resumePersistence,
	)
}

// Status returns the job's current view.
func (o *Orchestrator) Status(ctx context.Context, id string) (View, error) {
	return o.registry.Lookup(ctx, id)
}

// Subscribe streams the job's views as it progresses.
func (o *Orchestrator) Subscribe(id string) (<-chan View, func(), error) {
	return o.registry.Subscribe(id)
}

// Result returns the CSV artifact of a succeeded job.
func (o *Orchestrator) Result(id string) ([]byte, string, error) {
	var data []byte
	var name string
	err := o.registry.read(id, func(j *Job) error {
		if j.Status != StatusSucceeded {
			return fmt.Errorf("%w: job is %s", ErrNotReady, j.Status)
		}
		data = bytes.Clone(j.Result)
		name = j.OutputFilename
		return nil
	})
	return data, name, err
}

// ResultXLSX renders a succeeded job's questions as a workbook.
func (o *Orchestrator) ResultXLSX(id string) ([]byte, string, error) {
	var batches []mcq.TopicBatch
	var name string
	err := o.registry.read(id, func(j *Job) error {
		if j.Status != StatusSucceeded {
			return fmt.Errorf("%w: job is %s", ErrNotReady, j.Status)
		}
		batches = mcq.CloneBatches(j.Validated)
		name = strings.TrimSuffix(j.OutputFilename, ".csv") + ".xlsx"
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	data, err := export.XLSX(batches)
	if err != nil {
		return nil, "", err
	}
	return data, name, nil
}

func (o *Orchestrator) generate(ctx context.Context, id string, p Payload) ([]mcq.TopicBatch, []FailedTopic, error) {
	batches := make([]mcq.TopicBatch, 0, len(p.Topics))
	var failed []FailedTopic

	for i, t := range p.Topics {
		if err := ctx.Err(); err != nil {
			return nil, failed, fmt.Errorf("generation interrupted: %w", err)
		}
		o.registry.Logf(id, "Generating topic %d/%d: %s", i+1, len(p.Topics), t.Name)

		res, err := o.generator.Generate(ctx, generation.Request{
			ChapterNumber: p.ChapterNumber,
			ChapterTitle:  p.ChapterTitle,
			ClassLevel:    p.ClassLevel,
			SubjectName:   p.Subject.Name,
			SyllabusName:  p.Syllabus.Name,
			Topic:         generation.Topic{Name: t.Name, Description: t.Description},
			SourceRef:     p.SourceRef,
		}, o.notify(id))
		o.addUsage(id, res.Usage, false)
		if err != nil {
			o.registry.Logf(id, "Topic %q excluded: generation failed: %v", t.Name, err)
			failed = append(failed, FailedTopic{Topic: t.Name, Stage: StageGeneration, Reason: err.Error()})
			continue
		}

		o.registry.Logf(id, "Generated %d question(s) for %q", len(res.Items), t.Name)
		batches = append(batches, mcq.TopicBatch{Topic: t.Name, Items: res.Items})
	}

	if len(batches) == 0 {
		return nil, failed, errAllGenerationFailed
	}
	return batches, failed, nil
}

func (o *Orchestrator) validateAndPersist(ctx context.Context, id string, p Payload, batches []mcq.TopicBatch) {
	o.registry.Logf(id, "Validating %d topic(s)", len(batches))

	out, err := o.validator.Validate(ctx, batches, validation.Hooks{
		Usage:  func(u ai.Usage) { o.addUsage(id, u, true) },
		Log:    func(msg string) { o.registry.Logf(id, "%s", msg) },
		Notify: o.notify(id),
	})
	if err != nil {
		o.fail(id, fmt.Errorf("validation: %w", err))
		return
	}

	failures := make([]FailedTopic, 0, len(out.Failed))
	for _, f := range out.Failed {
		failures = append(failures, FailedTopic{Topic: f.Topic, Stage: StageValidation, Reason: f.Reason})
	}

	var validated []mcq.TopicBatch
	var dist mcq.Distribution
	if len(out.Accepted) > 0 {
		bal := mcq.NewBalancer(o.newRand())
		validated = make([]mcq.TopicBatch, len(out.Accepted))
		for i, b := range out.Accepted {
			validated[i] = mcq.TopicBatch{Topic: b.Topic, Items: bal.Apply(b.Items)}
		}
		dist = bal.Distribution()
	}

	if _, err := o.registry.Update(id, func(j *Job) error {
		j.Summary.FailedTopics = append(generationFailures(j.Summary.FailedTopics), failures...)
		j.Summary.UnverifiedTopics = out.Unverified
		j.Summary.AnswerDistribution = dist
		j.Validated = mcq.CloneBatches(validated)
		return nil
	}); err != nil {
		slog.Error("recording validation failed", "job_id", id, "error", err)
	}

	if len(validated) == 0 {
		o.fail(id, errAllValidationFailed)
		return
	}
	o.registry.Logf(id, "Answer distribution: A=%d B=%d C=%d D=%d", dist.A, dist.B, dist.C, dist.D)

	o.persist(ctx, id, p, validated)
}

func (o *Orchestrator) persist(ctx context.Context, id string, p Payload, validated []mcq.TopicBatch) {
	questions := mcq.CountItems(validated)
	o.registry.Logf(id, "Saving %d question(s) for %d topic(s)", questions, len(validated))

	res, err := o.persister.Persist(ctx, persist.Request{
		SubjectID:     p.Subject.ID,
		ClassLevel:    p.ClassLevel,
		ChapterNumber: p.ChapterNumber,
		ChapterTitle:  p.ChapterTitle,
		Syllabus:      p.Syllabus.Name,
		Batches:       validated,
	})
	if err != nil {
		o.fail(id, err)
		return
	}

	data, err := export.CSV(validated)
	if err != nil {
		o.fail(id, fmt.Errorf("building csv: %w", err))
		return
	}
	filename := outputFilename(p)

	if _, err := o.registry.Update(id, func(j *Job) error {
		if err := j.transition(StatusSucceeded); err != nil {
			return err
		}
		j.Result = data
		j.OutputFilename = filename
		j.Error = ""
		j.AllowValidationRetry, j.AllowPersistenceRetry = false, false

		j.Summary.ChapterID = res.ChapterID
		j.Summary.TopicsSucceeded = len(validated)
		j.Summary.QuestionCount = questions
		j.Summary.OverallStatus = OverallSucceeded
		if len(j.Summary.FailedTopics) > 0 {
			j.Summary.OverallStatus = OverallSucceededWithExclusions
		}
		o.registry.appendLog(j, fmt.Sprintf("Job succeeded: %d question(s) saved, %d topic(s) excluded",
			questions, len(j.Summary.FailedTopics)))
		return nil
	}); err != nil {
		slog.Error("recording success failed", "job_id", id, "error", err)
	}
}

func (o *Orchestrator) retry(id, kind string, allowed func(*Job) bool, reset func(*Job), resume func(context.Context, string, Payload)) (View, error) {
	var p Payload
	v, err := o.registry.Update(id, func(j *Job) error {
		if j.Snapshot == nil {
			return ErrNoSnapshot
		}
		if j.Status != StatusFailed || !allowed(j) {
			return fmt.Errorf("%w: %s retry on a %s job", ErrRetryNotAllowed, kind, j.Status)
		}
		if err := j.transition(StatusProcessing); err != nil {
			return err
		}
		reset(j)
		o.begin(j, "Retrying from "+kind)
		p = j.Payload
		return nil
	})
	if err != nil {
		return View{}, err
	}

	o.executor.Go(kind+" retry "+id, func(ctx context.Context) {
		defer o.recoverJob(id)
		resume(ctx, id, p)
	})
	return v, nil
}

func (o *Orchestrator) resumeValidation(ctx context.Context, id string, p Payload) {
	batches, err := o.registry.Snapshot(id)
	if err != nil {
		o.fail(id, err)
		return
	}
	o.validateAndPersist(ctx, id, p, batches)
}

func (o *Orchestrator) resumePersistence(ctx context.Context, id string, p Payload) {
	var validated []mcq.TopicBatch
	if err := o.registry.read(id, func(j *Job) error {
		validated = mcq.CloneBatches(j.Validated)
		return nil
	}); err != nil {
		o.fail(id, err)
		return
	}
	if len(validated) == 0 {
		o.registry.Logf(id, "No reviewed questions kept; validating again before saving")
		o.resumeValidation(ctx, id, p)
		return
	}
	o.persist(ctx, id, p, validated)
}

// begin resets per-attempt state on a job entering processing.
func (o *Orchestrator) begin(j *Job, msg string) {
	j.Error = ""
	j.AllowValidationRetry, j.AllowPersistenceRetry = false, false
	j.Summary.OverallStatus = ""
	o.registry.appendLog(j, msg)
}

// fail moves the job to failed and recomputes its retry flags.
func (o *Orchestrator) fail(id string, cause error) {
	_, err := o.registry.Update(id, func(j *Job) error {
		if err := j.transition(StatusFailed); err != nil {
			return err
		}
		j.Error = cause.Error()
		j.AllowValidationRetry, j.AllowPersistenceRetry = retryFlags(cause, j.Snapshot != nil)
		j.Summary.OverallStatus = OverallFailed
		j.Summary.TopicsSucceeded = 0
		j.Summary.QuestionCount = 0

		o.registry.appendLog(j, "Job failed: "+cause.Error())
		switch {
		case j.AllowValidationRetry:
			o.registry.appendLog(j, "Validation and persistence retries are available")
		case j.AllowPersistenceRetry:
			o.registry.appendLog(j, "Persistence retry is available")
		}
		return nil
	})
	if err != nil {
		slog.Error("recording job failure failed", "job_id", id, "cause", cause, "error", err)
	}
}

// retryFlags decides which retries a failure unlocks. Both need the
// generated snapshot.
func retryFlags(err error, hasSnapshot bool) (validation, persistence bool) {
	if !hasSnapshot {
		return false, false
	}
	switch {
	case ai.IsOverloaded(err):
		return true, true
	case persist.IsError(err):
		return false, true
	}
	return false, false
}

func (o *Orchestrator) recoverJob(id string) {
	if r := recover(); r != nil {
		slog.Error("job panicked", "job_id", id, "panic", fmt.Sprint(r))
		o.fail(id, fmt.Errorf("internal error: %v", r))
	}
}

func (o *Orchestrator) notify(id string) func(attempt int, delay time.Duration, err error) {
	return func(attempt int, delay time.Duration, err error) {
		o.registry.Logf(id, "Rate limited (attempt %d), retrying in %s: %v", attempt, delay, err)
	}
}

func (o *Orchestrator) addUsage(id string, u ai.Usage, anthropic bool) {
	if u.IsZero() {
		return
	}
	if _, err := o.registry.Update(id, func(j *Job) error {
		if anthropic {
			j.AnthropicUsage = j.AnthropicUsage.Add(u)
		} else {
			j.OpenAIUsage = j.OpenAIUsage.Add(u)
		}
		return nil
	}); err != nil {
		slog.Warn("usage dropped", "job_id", id, "error", err)
	}
}

func generationFailures(in []FailedTopic) []FailedTopic {
	var out []FailedTopic
	for _, f := range in {
		if f.Stage == StageGeneration {
			out = append(out, f)
		}
	}
	return out
}

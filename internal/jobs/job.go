// Package jobs runs MCQ jobs end to end: generation, review, answer
// balancing and persistence, with caller-initiated retries.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/ai"
	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrNoSnapshot        = errors.New("job has no generated questions to retry from")
	ErrRetryNotAllowed   = errors.New("retry not allowed for this job")
	ErrNotReady          = errors.New("job result not ready")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPayload    = errors.New("invalid job payload")
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further progress happens without a retry.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// failed -> processing is reserved for the retry entry points.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusSucceeded || to == StatusFailed
	case StatusFailed:
		return to == StatusProcessing
	}
	return false
}

// OverallStatus summarizes how complete a finished job's output is.
type OverallStatus string

const (
	OverallSucceeded               OverallStatus = "succeeded"
	OverallSucceededWithExclusions OverallStatus = "succeeded_with_exclusions"
	OverallFailed                  OverallStatus = "failed"
)

// Stages a topic can be excluded at.
const (
	StageGeneration = "generation"
	StageValidation = "validation"
)

// Ref names a subject or syllabus.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TopicSummary is one topic to write questions for.
type TopicSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Payload is the immutable job input.
type Payload struct {
	ChapterNumber   int
	ChapterTitle    string
	ClassLevel      string
	Subject         Ref
	Syllabus        Ref
	Topics          []TopicSummary
	SourceRef       string
	BookFingerprint string
}

// Validate checks required fields and trims whitespace.
func (p *Payload) Validate() error {
	p.ChapterTitle = strings.TrimSpace(p.ChapterTitle)
	p.ClassLevel = strings.TrimSpace(p.ClassLevel)
	p.SourceRef = strings.TrimSpace(p.SourceRef)
	p.Subject.ID = strings.TrimSpace(p.Subject.ID)

	switch {
	case p.ChapterNumber < 1:
		return fmt.Errorf("%w: chapterNumber must be positive", ErrInvalidPayload)
	case p.ChapterTitle == "":
		return fmt.Errorf("%w: chapterTitle is required", ErrInvalidPayload)
	case p.ClassLevel == "":
		return fmt.Errorf("%w: classLevel is required", ErrInvalidPayload)
	case p.Subject.ID == "":
		return fmt.Errorf("%w: subject.id is required", ErrInvalidPayload)
	case p.SourceRef == "":
		return fmt.Errorf("%w: vectorStoreId is required", ErrInvalidPayload)
	case len(p.Topics) == 0:
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidPayload)
	}

	seen := make(map[string]bool, len(p.Topics))
	for i := range p.Topics {
		name := strings.TrimSpace(p.Topics[i].Name)
		if name == "" {
			return fmt.Errorf("%w: topic %d has no name", ErrInvalidPayload, i+1)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate topic %q", ErrInvalidPayload, name)
		}
		seen[name] = true
		p.Topics[i].Name = name
	}
	return nil
}

// FailedTopic records a topic left out of the result.
type FailedTopic struct {
	Topic  string `json:"topic"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Summary describes the outcome of the latest run.
type Summary struct {
	OverallStatus      OverallStatus    `json:"overallStatus"`
	TopicsRequested    int              `json:"topicsRequested"`
	TopicsSucceeded    int              `json:"topicsSucceeded"`
	QuestionCount      int              `json:"questionCount"`
	FailedTopics       []FailedTopic    `json:"failedTopics"`
	UnverifiedTopics   []string         `json:"unverifiedTopics,omitempty"`
	AnswerDistribution mcq.Distribution `json:"answerDistribution"`
	BookFingerprint    string           `json:"bookFingerprint"`
	ChapterID          int64            `json:"chapterId,omitempty"`
}

func (s Summary) clone() Summary {
	out := s
	out.FailedTopics = append([]FailedTopic(nil), s.FailedTopics...)
	out.UnverifiedTopics = append([]string(nil), s.UnverifiedTopics...)
	return out
}

// Job is the registry's record of one job. It is only mutated through
// Registry.Update by the goroutine running the job.
type Job struct {
	ID      string
	Status  Status
	Payload Payload

	Logs           []string
	OpenAIUsage    ai.Usage
	AnthropicUsage ai.Usage
	Error          string

	Result         []byte
	OutputFilename string

	// Snapshot is the generated output, captured once and never mutated.
	Snapshot []mcq.TopicBatch
	// Validated holds reviewed and balanced batches awaiting persistence.
	Validated []mcq.TopicBatch

	Summary               Summary
	AllowValidationRetry  bool
	AllowPersistenceRetry bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// View is a read-only copy of a job, shaped as the status document.
type View struct {
	JobID                 string    `json:"jobId"`
	Status                Status    `json:"status"`
	Logs                  []string  `json:"logs"`
	Summary               Summary   `json:"summary"`
	Error                 string    `json:"error"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
	OpenAIUsage           ai.Usage  `json:"openAiUsage"`
	AnthropicUsage        ai.Usage  `json:"anthropicUsage"`
	AllowValidationRetry  bool      `json:"allowValidationRetry"`
	AllowPersistenceRetry bool      `json:"allowPersistenceRetry"`
	OutputFilename        string    `json:"outputFilename"`
	HasSnapshot           bool      `json:"hasSnapshot"`
}

func (j *Job) view() View {
	logs := make([]string, len(j.Logs))
	copy(logs, j.Logs)
	return View{
		JobID:                 j.ID,
		Status:                j.Status,
		Logs:                  logs,
		Summary:               j.Summary.clone(),
		Error:                 j.Error,
		CreatedAt:             j.CreatedAt,
		UpdatedAt:             j.UpdatedAt,
		OpenAIUsage:           j.OpenAIUsage,
		AnthropicUsage:        j.AnthropicUsage,
		AllowValidationRetry:  j.AllowValidationRetry,
		AllowPersistenceRetry: j.AllowPersistenceRetry,
		OutputFilename:        j.OutputFilename,
		HasSnapshot:           j.Snapshot != nil,
	}
}

// transition moves the job to status or returns ErrInvalidTransition.
func (j *Job) transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

package jobs

import (
	"errors"
	"regexp"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusSucceeded, false},
		{StatusPending, StatusFailed, false},
		{StatusProcessing, StatusSucceeded, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusFailed, StatusProcessing, true},
		{StatusFailed, StatusSucceeded, false},
		{StatusSucceeded, StatusProcessing, false},
		{StatusSucceeded, StatusFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestJobTransition(t *testing.T) {
	j := &Job{Status: StatusSucceeded}
	if err := j.transition(StatusProcessing); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition() error = %v, want ErrInvalidTransition", err)
	}
	if j.Status != StatusSucceeded {
		t.Errorf("status changed to %s on a rejected transition", j.Status)
	}
}

func validPayload() Payload {
	return Payload{
		ChapterNumber: 3,
		ChapterTitle:  "Fractions",
		ClassLevel:    "Form 1",
		Subject:       Ref{ID: "math", Name: "Mathematics"},
		Syllabus:      Ref{ID: "kssm", Name: "KSSM"},
		Topics:        []TopicSummary{{Name: "Proper fractions"}},
		SourceRef:     "vs_123",
	}
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Payload)
		wantErr bool
	}{
		{"valid", func(*Payload) {}, false},
		{"zero chapter", func(p *Payload) { p.ChapterNumber = 0 }, true},
		{"blank title", func(p *Payload) { p.ChapterTitle = "  " }, true},
		{"no class", func(p *Payload) { p.ClassLevel = "" }, true},
		{"no subject", func(p *Payload) { p.Subject.ID = "" }, true},
		{"no source", func(p *Payload) { p.SourceRef = "" }, true},
		{"no topics", func(p *Payload) { p.Topics = nil }, true},
		{"unnamed topic", func(p *Payload) { p.Topics = []TopicSummary{{Description: "x"}} }, true},
		{"duplicate topic", func(p *Payload) {
			p.Topics = []TopicSummary{{Name: "Sets"}, {Name: " Sets "}}
		}, true},
		{"no syllabus is fine", func(p *Payload) { p.Syllabus = Ref{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("error should wrap ErrInvalidPayload: %v", err)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("vs_1", "math", "Form 1", "Fractions")
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(a) {
		t.Fatalf("Fingerprint() = %q, want 16 hex chars", a)
	}
	if b := Fingerprint("vs_1", "math", "Form 1", "Fractions"); a != b {
		t.Error("Fingerprint() is not deterministic")
	}
	if c := Fingerprint("vs_2", "math", "Form 1", "Fractions"); a == c {
		t.Error("different sources should not collide")
	}
}

func TestOutputFilename(t *testing.T) {
	p := validPayload()
	p.BookFingerprint = "abc123"
	if got := outputFilename(p); got != "mcqs_mathematics_form-1_ch3_abc123.csv" {
		t.Errorf("outputFilename() = %q", got)
	}

	p.Subject.Name = ""
	p.BookFingerprint = ""
	if got := outputFilename(p); got != "mcqs_form-1_ch3.csv" {
		t.Errorf("outputFilename() = %q", got)
	}
}

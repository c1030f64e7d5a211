package persist

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

type failingBeginner struct{ err error }

func (f failingBeginner) Begin(context.Context) (pgx.Tx, error) { return nil, f.err }

func TestPersist_BeginFailureIsPersistError(t *testing.T) {
	connErr := errors.New("connection refused")
	w := NewWriter(failingBeginner{err: connErr})

	_, err := w.Persist(context.Background(), Request{SubjectID: "s1", ClassLevel: "Form 1", ChapterTitle: "Sets"})
	if !IsError(err) {
		t.Fatalf("Persist() error = %v, want *persist.Error", err)
	}
	if !errors.Is(err, connErr) {
		t.Errorf("error should unwrap to the driver error")
	}
}

func TestPersist_RequiresKeys(t *testing.T) {
	w := NewWriter(failingBeginner{err: errors.New("should not be called")})

	tests := []struct {
		name string
		req  Request
	}{
		{"no subject", Request{ClassLevel: "Form 1", ChapterTitle: "Sets"}},
		{"no class", Request{SubjectID: "s1", ChapterTitle: "Sets"}},
		{"no chapter", Request{SubjectID: "s1", ClassLevel: "Form 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Persist(context.Background(), tt.req)
			var pe *Error
			if !errors.As(err, &pe) || pe.Op != "validate" {
				t.Errorf("Persist() error = %v, want validate error", err)
			}
		})
	}
}

func TestIsError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", &Error{Op: "commit", Err: errors.New("x")}, true},
		{"wrapped", fmt.Errorf("job: %w", &Error{Op: "commit", Err: errors.New("x")}), true},
		{"other", errors.New("x"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsError(tt.err); got != tt.want {
			t.Errorf("%s: IsError() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLegacyChapterName(t *testing.T) {
	req := Request{ChapterNumber: 4, ChapterTitle: "Ratios, Rates and Proportions"}
	if got := req.LegacyChapterName(); got != "Chapter 4: Ratios, Rates and Proportions" {
		t.Errorf("LegacyChapterName() = %q", got)
	}
}

// Package rubric holds the question-writing rules given to the generation
// model. A built-in default is used unless a YAML file overrides it.
package rubric

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

// Rubric describes how many questions to write and how to shape them.
type Rubric struct {
	MinQuestions     int             `yaml:"min_questions"`
	MaxQuestions     int             `yaml:"max_questions"`
	Options          int             `yaml:"options"`
	MaxLetterPercent int             `yaml:"max_letter_percent"`
	CognitiveMix     []LevelShare    `yaml:"cognitive_mix"`
	Difficulties     []string        `yaml:"difficulties"`
	QuestionTypes    []string        `yaml:"question_types"`
	Guidelines       []string        `yaml:"guidelines"`
	Explanation      ExplanationRule `yaml:"explanation"`
}

// LevelShare is the target percentage for one or more cognitive levels.
type LevelShare struct {
	Levels  []string `yaml:"levels"`
	Percent int      `yaml:"percent"`
}

// ExplanationRule constrains the explanation field.
type ExplanationRule struct {
	MaxSentences    int  `yaml:"max_sentences"`
	RequireCitation bool `yaml:"require_citation"`
}

// Default returns the built-in rubric.
func Default() Rubric {
	return Rubric{
		MinQuestions:     10,
		MaxQuestions:     15,
		Options:          mcq.OptionCount,
		MaxLetterPercent: 40,
		CognitiveMix: []LevelShare{
			{Levels: []string{"Remember"}, Percent: 20},
			{Levels: []string{"Understand"}, Percent: 25},
			{Levels: []string{"Apply"}, Percent: 25},
			{Levels: []string{"Analyze"}, Percent: 20},
			{Levels: []string{"Evaluate", "Create"}, Percent: 10},
		},
		Difficulties:  slices.Clone(mcq.Difficulties),
		QuestionTypes: slices.Clone(mcq.QuestionTypes),
		Guidelines: []string{
			"Ground every question in the retrieved chapter text; do not use outside knowledge.",
			"Exactly one option is correct; distractors must be plausible and drawn from common misconceptions.",
			"Avoid 'all of the above', 'none of the above' and negatively phrased stems unless unavoidable.",
			"Keep options similar in length and grammatical form.",
			"Do not repeat a question or test the same fact twice.",
		},
		Explanation: ExplanationRule{MaxSentences: 3, RequireCitation: true},
	}
}

// Load reads a rubric from a YAML file. Fields absent from the file keep
// their default values. An empty path returns Default.
func Load(path string) (Rubric, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rubric{}, fmt.Errorf("reading rubric: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rubric{}, fmt.Errorf("parsing rubric %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Rubric{}, fmt.Errorf("rubric %s: %w", path, err)
	}

	slog.Info("rubric loaded", "path", path, "min", r.MinQuestions, "max", r.MaxQuestions)
	return r, nil
}

// Validate checks the rubric is internally consistent.
func (r Rubric) Validate() error {
	if r.MinQuestions < 1 {
		return fmt.Errorf("min_questions must be at least 1, got %d", r.MinQuestions)
	}
	if r.MaxQuestions < r.MinQuestions {
		return fmt.Errorf("max_questions (%d) is below min_questions (%d)", r.MaxQuestions, r.MinQuestions)
	}
	if r.Options != mcq.OptionCount {
		return fmt.Errorf("options must be %d, got %d", mcq.OptionCount, r.Options)
	}
	if r.MaxLetterPercent < 25 || r.MaxLetterPercent > 100 {
		return fmt.Errorf("max_letter_percent must be within [25,100], got %d", r.MaxLetterPercent)
	}

	total := 0
	for _, s := range r.CognitiveMix {
		if err := allowed("cognitive level", s.Levels, mcq.CognitiveLevels); err != nil {
			return err
		}
		total += s.Percent
	}
	if len(r.CognitiveMix) > 0 && total != 100 {
		return fmt.Errorf("cognitive_mix must sum to 100, got %d", total)
	}
	if len(r.QuestionTypes) == 0 {
		return fmt.Errorf("question_types must not be empty")
	}
	if err := allowed("difficulty", r.Difficulties, mcq.Difficulties); err != nil {
		return err
	}
	return allowed("question type", r.QuestionTypes, mcq.QuestionTypes)
}

func allowed(kind string, values, known []string) error {
	for _, v := range values {
		if !slices.Contains(known, v) {
			return fmt.Errorf("unknown %s %q, want one of %v", kind, v, known)
		}
	}
	return nil
}

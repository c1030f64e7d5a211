package mcq

import (
	"fmt"
	"strings"
)

// Normalize trims text fields and forces exactly OptionCount options,
// padding with empty strings or dropping extras. It fails when the stem is
// empty or the correct index does not point at a non-empty option.
func Normalize(it *Item) error {
	it.Question = strings.TrimSpace(it.Question)
	it.Explanation = strings.TrimSpace(it.Explanation)
	it.CognitiveLevel = strings.TrimSpace(it.CognitiveLevel)
	it.Difficulty = strings.TrimSpace(it.Difficulty)
	it.Type = strings.TrimSpace(it.Type)

	if it.Question == "" {
		return fmt.Errorf("%w: empty question", ErrMalformed)
	}

	opts := make([]string, OptionCount)
	for i := 0; i < OptionCount && i < len(it.Options); i++ {
		opts[i] = strings.TrimSpace(it.Options[i])
	}
	it.Options = opts

	if it.CorrectIndex < 0 || it.CorrectIndex >= OptionCount {
		return fmt.Errorf("%w: correct_index %d out of range", ErrMalformed, it.CorrectIndex)
	}
	if it.Options[it.CorrectIndex] == "" {
		return fmt.Errorf("%w: correct_index %d points at an empty option", ErrMalformed, it.CorrectIndex)
	}

	for i := range it.Sources {
		it.Sources[i].Snippet = strings.TrimSpace(it.Sources[i].Snippet)
	}
	return nil
}

func requireOptions(it Item) error {
	for i, o := range it.Options {
		if o == "" {
			return fmt.Errorf("%w: option %s is empty", ErrMalformed, Letters[i])
		}
	}
	return nil
}

// NormalizeReplacement merges a replacement over the original question and
// normalizes the result. The original is not modified.
func NormalizeReplacement(orig Item, rep Replacement) (Item, error) {
	out := orig.Clone()

	if rep.CognitiveLevel != "" {
		out.CognitiveLevel = rep.CognitiveLevel
	}
	if rep.Difficulty != "" {
		out.Difficulty = rep.Difficulty
	}
	if rep.Question != "" {
		out.Question = rep.Question
	}
	if len(rep.Options) > 0 {
		out.Options = append([]string(nil), rep.Options...)
	}
	if rep.CorrectIndex != nil {
		out.CorrectIndex = *rep.CorrectIndex
	}
	if rep.Explanation != "" {
		out.Explanation = rep.Explanation
	}
	if rep.Type != "" {
		out.Type = rep.Type
	}
	if rep.Sources != nil {
		out.Sources = mergeCitations(orig.Sources, rep.Sources)
	}

	if err := Normalize(&out); err != nil {
		return Item{}, fmt.Errorf("replacement: %w", err)
	}
	return out, nil
}

func mergeCitations(orig []Citation, patches []CitationPatch) []Citation {
	out := make([]Citation, len(patches))
	for i, p := range patches {
		var base Citation
		if i < len(orig) {
			base = orig[i]
		}
		if p.Page != nil {
			page := *p.Page
			base.Page = &page
		} else if base.Page != nil {
			page := *base.Page
			base.Page = &page
		}
		if p.Snippet != nil {
			base.Snippet = *p.Snippet
		}
		out[i] = base
	}
	return out
}

package generation

import (
	"fmt"
	"strings"

	"github.com/p-n-ai/pai-mcq/internal/rubric"
)

// SystemPrompt renders the fixed writing rules. The output depends only on
// the rubric.
func SystemPrompt(r rubric.Rubric) string {
	var b strings.Builder
	b.WriteString("You are an experienced examiner writing multiple-choice questions for school students.\n")
	b.WriteString("Use the file_search tool to read the chapter. Base every question only on retrieved text.\n\n")

	b.WriteString("Rules:\n")
	fmt.Fprintf(&b, "- Write between %d and %d questions.\n", r.MinQuestions, r.MaxQuestions)
	fmt.Fprintf(&b, "- Every question has exactly %d options and exactly one correct option.\n", r.Options)
	fmt.Fprintf(&b, "- No single option letter may be correct in more than %d%% of the questions.\n", r.MaxLetterPercent)

	if len(r.CognitiveMix) > 0 {
		b.WriteString("- Target cognitive-level mix: ")
		parts := make([]string, len(r.CognitiveMix))
		for i, s := range r.CognitiveMix {
			parts[i] = fmt.Sprintf("%s %d%%", strings.Join(s.Levels, "/"), s.Percent)
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(".\n")
	}
	if len(r.Difficulties) > 0 {
		fmt.Fprintf(&b, "- Difficulty is one of: %s.\n", strings.Join(r.Difficulties, ", "))
	}
	fmt.Fprintf(&b, "- Question type is one of: %s.\n", strings.Join(r.QuestionTypes, ", "))
	if r.Explanation.MaxSentences > 0 {
		fmt.Fprintf(&b, "- Explanations are at most %d sentences and say why the correct option is right.\n", r.Explanation.MaxSentences)
	}
	if r.Explanation.RequireCitation {
		b.WriteString("- Cite the page and a short snippet of the chapter text for every question; use null when the page is unknown.\n")
	}
	for _, g := range r.Guidelines {
		fmt.Fprintf(&b, "- %s\n", g)
	}

	b.WriteString("\nReturn JSON only, matching the provided schema. correct_index is zero-based.\n")
	return b.String()
}

// UserPrompt renders the chapter and topic context for one request.
func UserPrompt(req Request, r rubric.Rubric) string {
	var b strings.Builder
	if req.SubjectName != "" {
		fmt.Fprintf(&b, "Subject: %s\n", req.SubjectName)
	}
	if req.SyllabusName != "" {
		fmt.Fprintf(&b, "Syllabus: %s\n", req.SyllabusName)
	}
	if req.ClassLevel != "" {
		fmt.Fprintf(&b, "Class level: %s\n", req.ClassLevel)
	}
	fmt.Fprintf(&b, "Chapter %d: %s\n", req.ChapterNumber, req.ChapterTitle)
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic.Name)
	if d := strings.TrimSpace(req.Topic.Description); d != "" {
		fmt.Fprintf(&b, "Topic description: %s\n", d)
	}
	fmt.Fprintf(&b, "\nWrite %d-%d questions on this topic only.\n", r.MinQuestions, r.MaxQuestions)
	return b.String()
}

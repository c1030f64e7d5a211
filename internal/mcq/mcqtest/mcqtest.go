// Package mcqtest builds model responses for tests.
package mcqtest

import (
	"encoding/json"
	"fmt"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

// Item returns a well-formed question whose text is tagged with topic and i.
func Item(topic string, i int) mcq.Item {
	page := i + 1
	return mcq.Item{
		CognitiveLevel: "Understand",
		Difficulty:     "Medium",
		Question:       fmt.Sprintf("%s question %d?", topic, i),
		Options: []string{
			fmt.Sprintf("%s right %d", topic, i),
			fmt.Sprintf("%s wrong %d-1", topic, i),
			fmt.Sprintf("%s wrong %d-2", topic, i),
			fmt.Sprintf("%s wrong %d-3", topic, i),
		},
		CorrectIndex: 0,
		Explanation:  fmt.Sprintf("Because of rule %d.", i),
		Type:         "recall",
		Sources:      []mcq.Citation{{Page: &page, Snippet: "from the chapter"}},
	}
}

// Items returns n questions for topic.
func Items(topic string, n int) []mcq.Item {
	items := make([]mcq.Item, n)
	for i := range items {
		items[i] = Item(topic, i)
	}
	return items
}

// BatchJSON renders a generation response with n questions.
func BatchJSON(topic string, n int) string {
	b, err := json.Marshal(map[string]any{"mcqs": Items(topic, n)})
	if err != nil {
		panic(err)
	}
	return string(b)
}

// ApproveAll renders a review response approving n questions.
func ApproveAll(n int) string {
	verdicts := make([]mcq.Verdict, n)
	for i := range verdicts {
		verdicts[i] = mcq.Verdict{Index: i, Verdict: mcq.Approve, CorrectAnswerConfirmed: true, Confidence: "high"}
	}
	return VerdictsJSON(verdicts...)
}

// VerdictsJSON renders a review response.
func VerdictsJSON(verdicts ...mcq.Verdict) string {
	b, err := json.Marshal(map[string]any{"verdicts": verdicts})
	if err != nil {
		panic(err)
	}
	return string(b)
}

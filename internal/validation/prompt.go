package validation

import (
	"fmt"
	"strings"

	"github.com/p-n-ai/pai-mcq/internal/mcq"
)

const systemPrompt = `You are a senior examiner reviewing multiple-choice questions before they go into a question bank.
For every question decide "approve" or "reject". Reject when the marked answer is wrong, more than one option is defensible, the stem is ambiguous, or the explanation does not support the answer.
When you reject a question you must supply a corrected replacement. A replacement may omit fields that need no change.

Respond with JSON only, in this shape:
{"verdicts":[{"index":0,"verdict":"approve|reject","reasons":["..."],"explanation_alignment":"strong|weak|missing","correct_answer_confirmed":true,"confidence":"high|medium|low","replacement":null}]}
A replacement object may contain: cognitive_level, difficulty, question, options (4 strings), correct_index (0-3), explanation, type, sources ([{"page":int|null,"snippet":"..."}]).`

// ReviewPrompt lists every question in batch for review.
func ReviewPrompt(batch mcq.TopicBatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", batch.Topic)
	fmt.Fprintf(&b, "Review all %d questions below.\n", len(batch.Items))

	for i, it := range batch.Items {
		fmt.Fprintf(&b, "\n[%d] %s\n", i, it.Question)
		for j, opt := range it.Options {
			if j >= mcq.OptionCount {
				break
			}
			fmt.Fprintf(&b, "  %s. %s\n", mcq.Letters[j], opt)
		}
		fmt.Fprintf(&b, "  Marked correct: %s\n", it.CorrectLetter())
		fmt.Fprintf(&b, "  Explanation: %s\n", it.Explanation)
		fmt.Fprintf(&b, "  Cognitive level: %s | Difficulty: %s | Type: %s\n", it.CognitiveLevel, it.Difficulty, it.Type)
	}
	return b.String()
}

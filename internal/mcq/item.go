// Package mcq defines multiple-choice question content as it moves through
// the pipeline, and the rules that keep it well formed.
package mcq

// OptionCount is the number of options every stored question has.
const OptionCount = 4

// Letters maps an option index to its display letter.
var Letters = [OptionCount]string{"A", "B", "C", "D"}

// Values the generation schema accepts.
var (
	CognitiveLevels = []string{"Remember", "Understand", "Apply", "Analyze", "Evaluate", "Create"}
	Difficulties    = []string{"Easy", "Medium", "Hard"}
	QuestionTypes   = []string{"recall", "application", "assertion-reason", "fill-blank", "diagram"}
)

// Item is one multiple-choice question.
type Item struct {
	CognitiveLevel string     `json:"cognitive_level"`
	Difficulty     string     `json:"difficulty"`
	Question       string     `json:"question"`
	Options        []string   `json:"options"`
	CorrectIndex   int        `json:"correct_index"`
	Explanation    string     `json:"explanation"`
	Type           string     `json:"type"`
	Sources        []Citation `json:"sources,omitempty"`
}

// Citation points at the chapter text an item was drawn from.
type Citation struct {
	Page    *int   `json:"page"`
	Snippet string `json:"snippet"`
}

// CorrectLetter returns the letter of the correct option, or "" when the
// index is out of range.
func (it Item) CorrectLetter() string {
	if it.CorrectIndex < 0 || it.CorrectIndex >= OptionCount {
		return ""
	}
	return Letters[it.CorrectIndex]
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Options = append([]string(nil), it.Options...)
	if it.Sources != nil {
		out.Sources = make([]Citation, len(it.Sources))
		for i, c := range it.Sources {
			out.Sources[i] = c
			if c.Page != nil {
				p := *c.Page
				out.Sources[i].Page = &p
			}
		}
	}
	return out
}

// TopicBatch is the ordered set of questions written for one topic.
type TopicBatch struct {
	Topic string `json:"topic"`
	Items []Item `json:"items"`
}

// Clone returns a deep copy of the batch.
func (b TopicBatch) Clone() TopicBatch {
	out := TopicBatch{Topic: b.Topic}
	if b.Items != nil {
		out.Items = make([]Item, len(b.Items))
		for i, it := range b.Items {
			out.Items[i] = it.Clone()
		}
	}
	return out
}

// CloneBatches deep-copies a slice of batches. A nil input yields nil.
func CloneBatches(batches []TopicBatch) []TopicBatch {
	if batches == nil {
		return nil
	}
	out := make([]TopicBatch, len(batches))
	for i, b := range batches {
		out[i] = b.Clone()
	}
	return out
}

// CountItems returns the total number of items across batches.
func CountItems(batches []TopicBatch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Items)
	}
	return n
}

package mcq

// Verdict values.
const (
	Approve = "approve"
	Reject  = "reject"
)

// Verdict is the reviewer's judgment on one question.
type Verdict struct {
	Index                  int          `json:"index"`
	Verdict                string       `json:"verdict"`
	Reasons                []string     `json:"reasons,omitempty"`
	ExplanationAlignment   string       `json:"explanation_alignment,omitempty"`
	CorrectAnswerConfirmed bool         `json:"correct_answer_confirmed"`
	Confidence             string       `json:"confidence,omitempty"`
	Replacement            *Replacement `json:"replacement,omitempty"`
}

// Rejected reports whether the question was rejected.
func (v Verdict) Rejected() bool {
	return v.Verdict == Reject
}

// Replacement is a reviewer-supplied rewrite of a rejected question. Any
// field left empty falls back to the original question.
type Replacement struct {
	CognitiveLevel string          `json:"cognitive_level,omitempty"`
	Difficulty     string          `json:"difficulty,omitempty"`
	Question       string          `json:"question,omitempty"`
	Options        []string        `json:"options,omitempty"`
	CorrectIndex   *int            `json:"correct_index,omitempty"`
	Explanation    string          `json:"explanation,omitempty"`
	Type           string          `json:"type,omitempty"`
	Sources        []CitationPatch `json:"sources,omitempty"`
}

// CitationPatch is a partial citation; nil fields fall back to the
// original citation at the same position.
type CitationPatch struct {
	Page    *int    `json:"page,omitempty"`
	Snippet *string `json:"snippet,omitempty"`
}

// Empty reports whether the replacement carries nothing usable.
func (r *Replacement) Empty() bool {
	if r == nil {
		return true
	}
	return r.Question == "" && len(r.Options) == 0 && r.CorrectIndex == nil &&
		r.Explanation == "" && r.CognitiveLevel == "" && r.Difficulty == "" &&
		r.Type == "" && len(r.Sources) == 0
}

// VerdictIndex maps question index to verdict. When a reviewer returns two
// verdicts for one index the later wins.
func VerdictIndex(verdicts []Verdict) map[int]Verdict {
	m := make(map[int]Verdict, len(verdicts))
	for _, v := range verdicts {
		m[v.Index] = v
	}
	return m
}

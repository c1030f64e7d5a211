package ai

// Usage is cumulative token accounting for one provider.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Add returns u with other accumulated into it. Negative counts are ignored.
func (u Usage) Add(other Usage) Usage {
	if other.InputTokens > 0 {
		u.InputTokens += other.InputTokens
	}
	if other.OutputTokens > 0 {
		u.OutputTokens += other.OutputTokens
	}
	total := other.TotalTokens
	if total <= 0 {
		total = max(other.InputTokens, 0) + max(other.OutputTokens, 0)
	}
	u.TotalTokens += total
	return u
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

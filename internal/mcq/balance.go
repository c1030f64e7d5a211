package mcq

import (
	"math/rand/v2"
	"time"
)

// Distribution counts correct answers per letter.
type Distribution struct {
	A int `json:"A"`
	B int `json:"B"`
	C int `json:"C"`
	D int `json:"D"`
}

// Balancer moves each question's correct answer onto the least-used letter
// so far. One Balancer is used for a whole job so the spread is global
// across topics. It is not safe for concurrent use.
type Balancer struct {
	counts [OptionCount]int
	rng    *rand.Rand
}

// NewBalancer returns a Balancer. A nil rng seeds one from the clock.
func NewBalancer(rng *rand.Rand) *Balancer {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>32|1))
	}
	return &Balancer{rng: rng}
}

// Apply returns rebalanced copies of items. For each item the correct text
// moves to a letter with the minimum running count (ties broken at random)
// and the distractors fill the other letters in shuffled order. Items must
// already be normalized.
func (b *Balancer) Apply(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = b.place(it.Clone())
	}
	return out
}

func (b *Balancer) place(it Item) Item {
	if len(it.Options) != OptionCount || it.CorrectIndex < 0 || it.CorrectIndex >= OptionCount {
		return it
	}

	correct := it.Options[it.CorrectIndex]
	distractors := make([]string, 0, OptionCount-1)
	for i, opt := range it.Options {
		if i != it.CorrectIndex {
			distractors = append(distractors, opt)
		}
	}
	b.rng.Shuffle(len(distractors), func(i, j int) {
		distractors[i], distractors[j] = distractors[j], distractors[i]
	})

	target := b.leastUsed()
	opts := make([]string, OptionCount)
	next := 0
	for i := range opts {
		if i == target {
			opts[i] = correct
			continue
		}
		opts[i] = distractors[next]
		next++
	}

	it.Options = opts
	it.CorrectIndex = target
	b.counts[target]++
	return it
}

func (b *Balancer) leastUsed() int {
	lowest := b.counts[0]
	for _, c := range b.counts[1:] {
		lowest = min(lowest, c)
	}
	var candidates []int
	for i, c := range b.counts {
		if c == lowest {
			candidates = append(candidates, i)
		}
	}
	return candidates[b.rng.IntN(len(candidates))]
}

// Counts returns the running per-letter counts.
func (b *Balancer) Counts() [OptionCount]int {
	return b.counts
}

// Distribution returns the running counts keyed by letter.
func (b *Balancer) Distribution() Distribution {
	return Distribution{A: b.counts[0], B: b.counts[1], C: b.counts[2], D: b.counts[3]}
}

package mcq

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
)

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func sampleItem() Item {
	return Item{
		CognitiveLevel: "Apply",
		Difficulty:     "Medium",
		Question:       "What is 2 + 2?",
		Options:        []string{"3", "4", "5", "22"},
		CorrectIndex:   1,
		Explanation:    "Adding two and two gives four.",
		Type:           "application",
		Sources:        []Citation{{Page: intPtr(12), Snippet: "2 + 2 = 4"}},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		options     []string
		correct     int
		wantOptions []string
		wantErr     bool
	}{
		{"four options", []string{"a", "b", "c", "d"}, 0, []string{"a", "b", "c", "d"}, false},
		{"pads to four", []string{"a", "b"}, 1, []string{"a", "b", "", ""}, false},
		{"truncates to four", []string{"a", "b", "c", "d", "e"}, 3, []string{"a", "b", "c", "d"}, false},
		{"trims", []string{" a ", "b", "c", "d"}, 0, []string{"a", "b", "c", "d"}, false},
		{"correct points at padding", []string{"a", "b"}, 2, nil, true},
		{"correct out of range", []string{"a", "b", "c", "d"}, 4, nil, true},
		{"negative correct", []string{"a", "b", "c", "d"}, -1, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := sampleItem()
			it.Options = tt.options
			it.CorrectIndex = tt.correct

			err := Normalize(&it)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("error %v should wrap ErrMalformed", err)
				}
				return
			}
			if len(it.Options) != OptionCount {
				t.Fatalf("len(Options) = %d, want 4", len(it.Options))
			}
			for i := range tt.wantOptions {
				if it.Options[i] != tt.wantOptions[i] {
					t.Errorf("Options[%d] = %q, want %q", i, it.Options[i], tt.wantOptions[i])
				}
			}
		})
	}
}

func TestNormalize_EmptyQuestion(t *testing.T) {
	it := sampleItem()
	it.Question = "   "
	if err := Normalize(&it); err == nil {
		t.Error("Normalize() should reject an empty question")
	}
}

func TestNormalizeReplacement_FallsBackToOriginal(t *testing.T) {
	orig := sampleItem()
	orig.Sources = []Citation{
		{Page: intPtr(12), Snippet: "2 + 2 = 4"},
		{Page: intPtr(13), Snippet: "sums"},
	}

	rep := Replacement{
		Question: "What is 3 + 3?",
		Options:  []string{"6", "9"},
		Sources: []CitationPatch{
			{Snippet: strPtr("3 + 3 = 6")},
			{Page: intPtr(40)},
		},
		CorrectIndex: intPtr(0),
	}

	got, err := NormalizeReplacement(orig, rep)
	if err != nil {
		t.Fatalf("NormalizeReplacement() error = %v", err)
	}

	if got.Question != "What is 3 + 3?" {
		t.Errorf("Question = %q", got.Question)
	}
	if len(got.Options) != OptionCount || got.Options[0] != "6" || got.Options[2] != "" {
		t.Errorf("Options = %q, want padded to 4", got.Options)
	}
	if got.Explanation != orig.Explanation {
		t.Errorf("Explanation = %q, want original", got.Explanation)
	}
	if got.CognitiveLevel != "Apply" || got.Difficulty != "Medium" || got.Type != "application" {
		t.Errorf("tags not carried from original: %+v", got)
	}
	if got.Sources[0].Page == nil || *got.Sources[0].Page != 12 {
		t.Errorf("Sources[0].Page should fall back to 12")
	}
	if got.Sources[0].Snippet != "3 + 3 = 6" {
		t.Errorf("Sources[0].Snippet = %q", got.Sources[0].Snippet)
	}
	if *got.Sources[1].Page != 40 || got.Sources[1].Snippet != "sums" {
		t.Errorf("Sources[1] = %+v, want page 40 with original snippet", got.Sources[1])
	}

	// The original must be untouched.
	if orig.Question != "What is 2 + 2?" || *orig.Sources[1].Page != 13 {
		t.Error("original item was modified")
	}
}

func TestNormalizeReplacement_KeepsOriginalCorrectIndex(t *testing.T) {
	orig := sampleItem()
	got, err := NormalizeReplacement(orig, Replacement{Explanation: "Four is the sum."})
	if err != nil {
		t.Fatalf("NormalizeReplacement() error = %v", err)
	}
	if got.CorrectIndex != 1 || got.Options[1] != "4" {
		t.Errorf("correct answer changed: %+v", got)
	}
}

func TestNormalizeReplacement_Invalid(t *testing.T) {
	_, err := NormalizeReplacement(sampleItem(), Replacement{Options: []string{"x", "y"}, CorrectIndex: intPtr(3)})
	if err == nil {
		t.Error("replacement pointing at a padded option should fail")
	}
}

func TestReplacement_Empty(t *testing.T) {
	var nilRep *Replacement
	if !nilRep.Empty() {
		t.Error("nil replacement should be empty")
	}
	if !(&Replacement{}).Empty() {
		t.Error("zero replacement should be empty")
	}
	if (&Replacement{Question: "q"}).Empty() {
		t.Error("replacement with a question is not empty")
	}
}

func TestClone_IsDeep(t *testing.T) {
	batches := []TopicBatch{{Topic: "Algebra", Items: []Item{sampleItem()}}}
	cp := CloneBatches(batches)

	cp[0].Items[0].Options[0] = "changed"
	*cp[0].Items[0].Sources[0].Page = 99
	cp[0].Topic = "Geometry"

	if batches[0].Items[0].Options[0] != "3" {
		t.Error("clone shares Options")
	}
	if *batches[0].Items[0].Sources[0].Page != 12 {
		t.Error("clone shares citation pages")
	}
	if batches[0].Topic != "Algebra" {
		t.Error("clone shares topic")
	}
	if CloneBatches(nil) != nil {
		t.Error("CloneBatches(nil) should be nil")
	}
}

func TestParseBatch(t *testing.T) {
	valid := `{"mcqs":[{"cognitive_level":"Remember","difficulty":"Easy","question":"Q?","options":["a","b","c","d"],"correct_index":2,"explanation":"e","type":"recall","sources":[{"page":null,"snippet":"s"}]}]}`

	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{"valid", valid, 1, false},
		{"fenced", "```json\n" + valid + "\n```", 1, false},
		{"prose around", "Here are the questions:\n" + valid + "\nHope this helps.", 1, false},
		{"trailing comma", valid[:len(valid)-2] + ",]}", 1, false},
		{"truncated", valid[:len(valid)-2], 1, false},
		{"empty", "", 0, true},
		{"not json", "I cannot help with that.", 0, true},
		{"bad enum", strings.Replace(valid, `"Easy"`, `"Trivial"`, 1), 0, true},
		{"correct index too high", strings.Replace(valid, `"correct_index":2`, `"correct_index":7`, 1), 0, true},
		{"missing mcqs", `{"questions":[]}`, 0, true},
		{"two options", strings.Replace(valid, `["a","b","c","d"],"correct_index":2`, `["yes","no"],"correct_index":0`, 1), 0, true},
		{"five options", strings.Replace(valid, `"d"]`, `"d","e"]`, 1), 0, true},
		{"blank option", strings.Replace(valid, `"d"]`, `"  "]`, 1), 0, true},
		{"unknown type", strings.Replace(valid, `"recall"`, `"essay"`, 1), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseBatch(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("error %v should wrap ErrMalformed", err)
				}
				return
			}
			if len(items) != tt.wantLen {
				t.Fatalf("len(items) = %d, want %d", len(items), tt.wantLen)
			}
			if len(items[0].Options) != OptionCount {
				t.Errorf("options not normalized: %q", items[0].Options)
			}
			if items[0].Sources[0].Page != nil {
				t.Errorf("null page should decode to nil")
			}
		})
	}
}

func TestParseVerdicts(t *testing.T) {
	raw := "```json\n" + `{"verdicts":[
		{"index":0,"verdict":"approve","correct_answer_confirmed":true,"confidence":"high"},
		{"index":1,"verdict":"reject","reasons":["ambiguous"],"replacement":{"question":"Better?","correct_index":0}},
		{"index":2,"verdict":"reject","replacement":null},
	]}` + "\n```"

	verdicts, err := ParseVerdicts(raw)
	if err != nil {
		t.Fatalf("ParseVerdicts() error = %v", err)
	}
	if len(verdicts) != 3 {
		t.Fatalf("len(verdicts) = %d, want 3", len(verdicts))
	}
	if verdicts[0].Rejected() || !verdicts[1].Rejected() {
		t.Error("verdicts decoded incorrectly")
	}
	if verdicts[1].Replacement == nil || verdicts[1].Replacement.Question != "Better?" {
		t.Errorf("replacement = %+v", verdicts[1].Replacement)
	}
	if verdicts[2].Replacement != nil {
		t.Error("null replacement should decode to nil")
	}

	if _, err := ParseVerdicts(`{"verdicts":[{"index":0,"verdict":"maybe"}]}`); err == nil {
		t.Error("unknown verdict value should fail")
	}
}

func TestRepair(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already valid", `{"a":1}`, `{"a":1}`},
		{"fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"trailing comma object", `{"a":1,}`, `{"a":1}`},
		{"trailing comma array", `{"a":[1,2,]}`, `{"a":[1,2]}`},
		{"unclosed", `{"a":[1,2`, `{"a":[1,2]}`},
		{"unterminated string", `{"a":"hel`, `{"a":"hel"}`},
		{"brace in string", `{"a":"}"`, `{"a":"}"}`},
		{"trailing prose", `{"a":1} thanks!`, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Repair(tt.in); got != tt.want {
				t.Errorf("Repair(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBalancer_KeepsCorrectText(t *testing.T) {
	b := NewBalancer(rand.New(rand.NewPCG(1, 2)))
	items := []Item{sampleItem(), sampleItem(), sampleItem(), sampleItem()}

	out := b.Apply(items)
	seen := map[int]bool{}
	for i, it := range out {
		if it.Options[it.CorrectIndex] != "4" {
			t.Errorf("item %d: correct text moved away: %q at %d", i, it.Options, it.CorrectIndex)
		}
		if len(it.Options) != OptionCount {
			t.Errorf("item %d: %d options", i, len(it.Options))
		}
		seen[it.CorrectIndex] = true
	}
	if len(seen) != OptionCount {
		t.Errorf("4 items should use all 4 letters, got %v", seen)
	}
	if items[0].CorrectIndex != 1 {
		t.Error("Apply modified its input")
	}
}

func TestBalancer_BoundAcrossUnevenTopics(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed+7))
		b := NewBalancer(rng)

		total := 0
		topics := 1 + rng.IntN(6)
		for range topics {
			size := 1 + rng.IntN(15)
			items := make([]Item, size)
			for i := range items {
				it := sampleItem()
				it.CorrectIndex = rng.IntN(OptionCount)
				it.Options = []string{"w", "x", "y", "z"}
				it.Options[it.CorrectIndex] = fmt.Sprintf("right-%d", i)
				items[i] = it
			}
			b.Apply(items)
			total += size

			counts := b.Counts()
			hi, lo := counts[0], counts[0]
			for _, c := range counts {
				hi, lo = max(hi, c), min(lo, c)
			}
			bound := (total+3)/4 + 1
			if hi > bound {
				t.Fatalf("seed %d: max count %d exceeds ceil(%d/4)+1 = %d", seed, hi, total, bound)
			}
			if hi-lo > 1 {
				t.Fatalf("seed %d: spread %v exceeds 1", seed, counts)
			}
		}

		d := b.Distribution()
		if d.A+d.B+d.C+d.D != total {
			t.Fatalf("seed %d: distribution %+v does not sum to %d", seed, d, total)
		}
	}
}

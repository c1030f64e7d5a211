package mcq

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformed marks model output that could not be parsed or did not
// match the expected shape.
var ErrMalformed = errors.New("malformed model output")

// Schema names sent with structured-output requests.
const (
	BatchSchemaName   = "mcq_batch"
	VerdictSchemaName = "mcq_verdicts"
)

// BatchSchema returns the JSON schema for generated batches. Every object
// lists all of its properties as required and forbids extras so the schema
// is accepted by strict structured output.
func BatchSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"mcqs"},
		"properties": map[string]any{
			"mcqs": map[string]any{
				"type":  "array",
				"items": itemSchema(),
			},
		},
	}
}

func itemSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required": []any{
			"cognitive_level", "difficulty", "question", "options",
			"correct_index", "explanation", "type", "sources",
		},
		"properties": map[string]any{
			"cognitive_level": map[string]any{
				"type": "string",
				"enum": enum(CognitiveLevels),
			},
			"difficulty": map[string]any{
				"type": "string",
				"enum": enum(Difficulties),
			},
			"question": map[string]any{"type": "string"},
			"options": map[string]any{
				"type":     "array",
				"minItems": OptionCount,
				"maxItems": OptionCount,
				"items":    map[string]any{"type": "string"},
			},
			"correct_index": map[string]any{"type": "integer", "minimum": 0, "maximum": 3},
			"explanation":   map[string]any{"type": "string"},
			"type": map[string]any{
				"type": "string",
				"enum": enum(QuestionTypes),
			},
			"sources": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"page", "snippet"},
					"properties": map[string]any{
						"page":    map[string]any{"type": []any{"integer", "null"}},
						"snippet": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func enum(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// VerdictSchema returns the JSON schema for reviewer responses. Replacement
// fields are all optional.
func VerdictSchema() map[string]any {
	replacement := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cognitive_level": map[string]any{"type": "string"},
			"difficulty":      map[string]any{"type": "string"},
			"question":        map[string]any{"type": "string"},
			"options": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"correct_index": map[string]any{"type": "integer", "minimum": 0, "maximum": 3},
			"explanation":   map[string]any{"type": "string"},
			"type":          map[string]any{"type": "string"},
			"sources": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"page":    map[string]any{"type": []any{"integer", "null"}},
						"snippet": map[string]any{"type": "string"},
					},
				},
			},
		},
	}

	return map[string]any{
		"type":     "object",
		"required": []any{"verdicts"},
		"properties": map[string]any{
			"verdicts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"index", "verdict"},
					"properties": map[string]any{
						"index":                    map[string]any{"type": "integer", "minimum": 0},
						"verdict":                  map[string]any{"type": "string", "enum": []any{Approve, Reject}},
						"reasons":                  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"explanation_alignment":    map[string]any{"type": "string", "enum": []any{"strong", "weak", "missing"}},
						"correct_answer_confirmed": map[string]any{"type": "boolean"},
						"confidence":               map[string]any{"type": "string", "enum": []any{"high", "medium", "low"}},
						"replacement":              map[string]any{"oneOf": []any{replacement, map[string]any{"type": "null"}}},
					},
				},
			},
		},
	}
}

var (
	batchSchema   = mustCompile(BatchSchema())
	verdictSchema = mustCompile(VerdictSchema())
)

func mustCompile(schema map[string]any) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compiling schema: %v", err))
	}
	return s
}

type batchEnvelope struct {
	MCQs []Item `json:"mcqs"`
}

type verdictEnvelope struct {
	Verdicts []Verdict `json:"verdicts"`
}

// ParseBatch parses generated output into normalized items. The raw text
// gets one repair pass if it is not valid JSON. Unlike replacements,
// generated items must carry four non-blank options.
func ParseBatch(raw string) ([]Item, error) {
	var env batchEnvelope
	if err := decode(raw, batchSchema, &env); err != nil {
		return nil, err
	}
	for i := range env.MCQs {
		if err := Normalize(&env.MCQs[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if err := requireOptions(env.MCQs[i]); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return env.MCQs, nil
}

// ParseVerdicts parses reviewer output.
func ParseVerdicts(raw string) ([]Verdict, error) {
	var env verdictEnvelope
	if err := decode(raw, verdictSchema, &env); err != nil {
		return nil, err
	}
	return env.Verdicts, nil
}

func decode(raw string, schema *gojsonschema.Schema, v any) error {
	text := strings.TrimSpace(raw)
	if text == "" {
		return fmt.Errorf("%w: empty output", ErrMalformed)
	}
	if !json.Valid([]byte(text)) {
		text = Repair(text)
		if !json.Valid([]byte(text)) {
			return fmt.Errorf("%w: not valid JSON after repair", ErrMalformed)
		}
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: schema validation failed: %s", ErrMalformed, strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

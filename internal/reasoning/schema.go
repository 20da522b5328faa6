package reasoning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/finguru/finguru-service/internal/policy"
)

// reasoningOutput is the validated shape of a primary reasoner answer.
type reasoningOutput struct {
	Amount       float64 `json:"amount"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	RuleApplied  string  `json:"rule_applied"`
	TaxReasoning string  `json:"tax_reasoning"`
	Explanation  string  `json:"explanation"`
}

var outputFields = []string{"amount", "category", "confidence", "rule_applied", "tax_reasoning", "explanation"}

// buildOutputSchema returns the strict JSON schema for a reasoner answer under p.
func buildOutputSchema(p *policy.Policy) map[string]any {
	text := func() map[string]any { return map[string]any{"type": "string", "minLength": 1} }
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             outputFields,
		"properties": map[string]any{
			"amount":        map[string]any{"type": "number", "minimum": 0},
			"category":      map[string]any{"type": "string", "enum": p.Keys()},
			"confidence":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"rule_applied":  text(),
			"tax_reasoning": text(),
			"explanation":   text(),
		},
	}
}

// compileOutputSchema compiles the reasoner answer schema for p.
func compileOutputSchema(p *policy.Policy) (*jsonschema.Schema, error) {
	b, err := json.Marshal(buildOutputSchema(p))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("reasoning.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("reasoning.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

var (
	jsonObject      = regexp.MustCompile(`(?s)\{.*\}`)
	categorySpacing = regexp.MustCompile(`[\s\-]+`)
)

// parseOutput repairs, checks and decodes a raw reasoner answer.
// Repairs: markdown fences and surrounding prose are stripped, numeric strings
// are coerced to numbers and the category key is normalized. An out-of-policy
// category is a category failure; anything else that does not match the
// schema is a schema failure.
func parseOutput(raw string, p *policy.Policy, schema *jsonschema.Schema) (reasoningOutput, error) {
	cleaned := strings.TrimSpace(raw)
	fence := "```"
	cleaned = strings.ReplaceAll(cleaned, fence+"json", "")
	cleaned = strings.ReplaceAll(cleaned, fence, "")
	cleaned = strings.TrimSpace(cleaned)
	if !strings.HasPrefix(cleaned, "{") {
		cleaned = jsonObject.FindString(cleaned)
	}
	if cleaned == "" {
		return reasoningOutput{}, newFailure(FailureSchema, fmt.Errorf("no JSON object in response"))
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return reasoningOutput{}, newFailure(FailureSchema, fmt.Errorf("decode response: %w", err))
	}

	for _, k := range []string{"amount", "confidence"} {
		if s, ok := m[k].(string); ok {
			if f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64); err == nil {
				m[k] = f
			}
		}
	}
	if s, ok := m["category"].(string); ok {
		key := categorySpacing.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
		if !p.Has(key) {
			return reasoningOutput{}, newFailure(FailureCategory, fmt.Errorf("category %q not in policy", s))
		}
		m["category"] = key
	}

	if err := schema.Validate(m); err != nil {
		return reasoningOutput{}, newFailure(FailureSchema, fmt.Errorf("response does not match schema: %w", err))
	}

	b, err := json.Marshal(m)
	if err != nil {
		return reasoningOutput{}, newFailure(FailureSchema, err)
	}
	var out reasoningOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return reasoningOutput{}, newFailure(FailureSchema, err)
	}
	return out, nil
}

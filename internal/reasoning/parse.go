package reasoning

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

var resultValidate = validator.New()

// wireResult mirrors the backend contract. Pointers separate a missing field
// from a zero value.
type wireResult struct {
	RiskScore          *int      `json:"risk_score" validate:"required,gte=0,lte=100"`
	PredictedDelayDays *float64  `json:"predicted_delay_days" validate:"required,gte=0"`
	Alternatives       *[]string `json:"alternatives" validate:"required"`
	Reasoning          *string   `json:"reasoning" validate:"required"`
	ConfidenceScore    *float64  `json:"confidence_score" validate:"required,gte=0,lte=1"`
}

// Parse repairs common wrapping noise around the JSON object, then decodes it
// strictly. Any missing, mistyped, out of range or unknown field is a
// *ValidationError.
func Parse(raw string) (contracts.ReasoningResult, error) {
	body, ok := extractObject(raw)
	if !ok {
		return contracts.ReasoningResult{}, &ValidationError{Reason: "no JSON object in response"}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()

	var wire wireResult
	if err := dec.Decode(&wire); err != nil {
		return contracts.ReasoningResult{}, &ValidationError{Reason: "decode", Err: err}
	}
	if dec.More() {
		return contracts.ReasoningResult{}, &ValidationError{Reason: "trailing data after object"}
	}
	if err := resultValidate.Struct(wire); err != nil {
		return contracts.ReasoningResult{}, &ValidationError{Reason: "schema", Err: err}
	}

	alternatives := make([]string, 0, len(*wire.Alternatives))
	alternatives = append(alternatives, *wire.Alternatives...)

	return contracts.ReasoningResult{
		RiskScore:          *wire.RiskScore,
		PredictedDelayDays: *wire.PredictedDelayDays,
		Alternatives:       alternatives,
		Reasoning:          *wire.Reasoning,
		ConfidenceScore:    *wire.ConfidenceScore,
	}, nil
}

// extractObject drops markdown fences and prose around the outermost object.
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

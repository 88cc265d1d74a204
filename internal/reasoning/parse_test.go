package reasoning

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validResponse = `{"risk_score": 78, "predicted_delay_days": 9.5, "alternatives": ["Cape of Good Hope", "Air freight for priority SKUs"], "reasoning": "Escalating strikes near Bab el-Mandeb.", "confidence_score": 0.82}`

func TestParseValid(t *testing.T) {
	res, err := Parse(validResponse)
	require.NoError(t, err)

	assert.Equal(t, 78, res.RiskScore)
	assert.Equal(t, 9.5, res.PredictedDelayDays)
	assert.Equal(t, []string{"Cape of Good Hope", "Air freight for priority SKUs"}, res.Alternatives)
	assert.Equal(t, 0.82, res.ConfidenceScore)
}

func TestParseRepairsWrapping(t *testing.T) {
	inputs := map[string]string{
		"json fence": "```json\n" + validResponse + "\n```",
		"bare fence": "```\n" + validResponse + "\n```",
		"prose":      "Here is my assessment:\n" + validResponse + "\nLet me know if you need more.",
		"whitespace": "\n\n   " + validResponse + "   \n",
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			res, err := Parse(in)
			require.NoError(t, err)
			assert.Equal(t, 78, res.RiskScore)
		})
	}
}

func TestParseAcceptsEmptyAlternativesAndZeroValues(t *testing.T) {
	res, err := Parse(`{"risk_score": 0, "predicted_delay_days": 0, "alternatives": [], "reasoning": "", "confidence_score": 0}`)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RiskScore)
	assert.NotNil(t, res.Alternatives)
	assert.Empty(t, res.Alternatives)
}

func TestParseRejectsContractViolations(t *testing.T) {
	tests := map[string]string{
		"not json":           "the route looks risky",
		"missing field":      `{"risk_score": 50, "predicted_delay_days": 2, "alternatives": [], "reasoning": "x"}`,
		"null alternatives":  `{"risk_score": 50, "predicted_delay_days": 2, "alternatives": null, "reasoning": "x", "confidence_score": 0.5}`,
		"fractional score":   `{"risk_score": 50.5, "predicted_delay_days": 2, "alternatives": [], "reasoning": "x", "confidence_score": 0.5}`,
		"string score":       `{"risk_score": "50", "predicted_delay_days": 2, "alternatives": [], "reasoning": "x", "confidence_score": 0.5}`,
		"score above range":  `{"risk_score": 101, "predicted_delay_days": 2, "alternatives": [], "reasoning": "x", "confidence_score": 0.5}`,
		"negative delay":     `{"risk_score": 50, "predicted_delay_days": -1, "alternatives": [], "reasoning": "x", "confidence_score": 0.5}`,
		"confidence above 1": `{"risk_score": 50, "predicted_delay_days": 2, "alternatives": [], "reasoning": "x", "confidence_score": 1.2}`,
		"extra key":          `{"risk_score": 50, "predicted_delay_days": 2, "alternatives": [], "reasoning": "x", "confidence_score": 0.5, "notes": "y"}`,
		"non string alt":     `{"risk_score": 50, "predicted_delay_days": 2, "alternatives": [1], "reasoning": "x", "confidence_score": 0.5}`,
		"two objects":        `{"risk_score": 50} {"risk_score": 60}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)

			var vErr *ValidationError
			assert.True(t, errors.As(err, &vErr), "want ValidationError, got %T", err)
		})
	}
}

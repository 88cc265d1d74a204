package reasoning

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

func TestBuildPrompt(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	baseline := contracts.BaselineScore{
		Route:             "Red Sea/Suez",
		Score:             72.25,
		DelayEstimateDays: 4.1,
		WindowStart:       end.Add(-48 * time.Hour),
		WindowEnd:         end,
	}
	events := []contracts.RiskEvent{{
		EventType:   contracts.EventGeopolitical,
		GeoLocation: "Bab el-Mandeb",
		Severity:    90,
		Confidence:  0.85,
		Description: "Missile strike\non tanker",
	}}

	prompt := BuildPrompt(baseline, events)

	assert.Contains(t, prompt, "Role: Senior Supply Chain Risk Analyst")
	assert.Contains(t, prompt, "Route: Red Sea/Suez")
	assert.Contains(t, prompt, "BaselineRisk: 72.25")
	assert.Contains(t, prompt, "- [Geopolitical] Bab el-Mandeb | severity=90 confidence=0.85 | Missile strike on tanker")
	assert.Contains(t, prompt, `"confidence_score": float`)
	assert.Equal(t, prompt, BuildPrompt(baseline, events))
}

func TestBuildPromptCapsEvents(t *testing.T) {
	events := make([]contracts.RiskEvent, 0, maxPromptEvents+5)
	for i := range maxPromptEvents + 5 {
		events = append(events, contracts.RiskEvent{EventType: contracts.EventWeather, GeoLocation: fmt.Sprintf("loc-%d", i)})
	}

	prompt := BuildPrompt(contracts.BaselineScore{Route: "Cape Route"}, events)

	assert.Equal(t, maxPromptEvents, strings.Count(prompt, "- [Weather]"))
	assert.Contains(t, prompt, "(5 older events omitted)")
}

func TestBuildPromptKeepsNewestEvents(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events := make([]contracts.RiskEvent, 0, 35)
	for i := range 35 {
		events = append(events, contracts.RiskEvent{
			EventType:   contracts.EventGeopolitical,
			GeoLocation: fmt.Sprintf("loc-%02d", i),
			EventTime:   start.Add(time.Duration(i) * time.Hour),
		})
	}

	prompt := BuildPrompt(contracts.BaselineScore{Route: "Red Sea/Suez"}, events)

	assert.Contains(t, prompt, "] loc-34 |")
	assert.Contains(t, prompt, "] loc-05 |")
	assert.NotContains(t, prompt, "] loc-00 |")
	assert.NotContains(t, prompt, "] loc-04 |")
	assert.Contains(t, prompt, "(5 older events omitted)")

	reversed := make([]contracts.RiskEvent, len(events))
	for i, e := range events {
		reversed[len(events)-1-i] = e
	}
	assert.Equal(t, prompt, BuildPrompt(contracts.BaselineScore{Route: "Red Sea/Suez"}, reversed))
}

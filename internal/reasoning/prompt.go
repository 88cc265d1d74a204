package reasoning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

// maxPromptEvents bounds prompt size on noisy routes. Only the newest events
// are listed; older ones are summarised by count.
const maxPromptEvents = 30

const schemaBlock = `{
  "risk_score": int,
  "predicted_delay_days": float,
  "alternatives": ["string", "string"],
  "reasoning": "string",
  "confidence_score": float
}`

// BuildPrompt renders the analyst prompt for one route. Output is a pure
// function of its inputs.
func BuildPrompt(baseline contracts.BaselineScore, events []contracts.RiskEvent) string {
	var b strings.Builder

	b.WriteString("Role: Senior Supply Chain Risk Analyst\n")
	fmt.Fprintf(&b, "Route: %s\n", baseline.Route)
	fmt.Fprintf(&b, "BaselineRisk: %.2f\n", baseline.Score)
	fmt.Fprintf(&b, "BaselineDelayDays: %.2f\n", baseline.DelayEstimateDays)
	fmt.Fprintf(&b, "Window: %s to %s\n\n",
		baseline.WindowStart.UTC().Format("2006-01-02T15:04Z"),
		baseline.WindowEnd.UTC().Format("2006-01-02T15:04Z"))

	b.WriteString("Recent Events:\n")
	shown := newestEvents(events, maxPromptEvents)
	for _, e := range shown {
		fmt.Fprintf(&b, "- [%s] %s | severity=%d confidence=%.2f | %s\n",
			e.EventType, e.GeoLocation, e.Severity, e.Confidence, oneLine(e.Description))
	}
	if extra := len(events) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "- (%d older events omitted)\n", extra)
	}

	b.WriteString(`
Task:
1) Assess route disruption risk (0-100)
2) Predict delay in days
3) Suggest 2 reroute/logistics alternatives
4) Give concise reasoning grounded in events only
5) Provide confidence score between 0 and 1

Output constraints:
- Return JSON only
- No markdown, no extra keys

Schema:
`)
	b.WriteString(schemaBlock)
	return b.String()
}

// newestEvents returns at most n events in chronological order, dropping the
// oldest. Ties keep their input order.
func newestEvents(events []contracts.RiskEvent, n int) []contracts.RiskEvent {
	sorted := append([]contracts.RiskEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EventTime.Before(sorted[j].EventTime)
	})
	if len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	return sorted
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

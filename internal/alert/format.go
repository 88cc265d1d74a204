package alert

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/risk"
)

func Subject(d contracts.Decision) string {
	return fmt.Sprintf("Route Risk Alert: %s risk %s/100 (%s)", d.Route, formatScore(d.FinalScore), d.Bucket)
}

func FormatText(d contracts.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Route: %s\n", d.Route)
	fmt.Fprintf(&b, "Risk score: %s/100 (%s)\n", formatScore(d.FinalScore), d.Bucket)
	fmt.Fprintf(&b, "Predicted delay: %s days\n", formatScore(d.PredictedDelayDays()))
	fmt.Fprintf(&b, "Recommendation: %s\n", strings.ToUpper(action(d)))
	if d.Degraded {
		b.WriteString("Note: reasoning backend unavailable, baseline estimate used.\n")
	}
	if d.Reasoning != nil {
		fmt.Fprintf(&b, "\nReasoning:\n%s\n", d.Reasoning.Reasoning)
		if len(d.Reasoning.Alternatives) > 0 {
			b.WriteString("\nAlternatives:\n")
			for _, alt := range d.Reasoning.Alternatives {
				fmt.Fprintf(&b, "- %s\n", alt)
			}
		}
	}
	if d.CostBenefit != nil {
		fmt.Fprintf(&b, "\nCost-benefit: %s\n%s\n", d.CostBenefit.Recommendation, d.CostBenefit.Rationale)
	}
	return b.String()
}

// FormatHTML renders an email-safe report. All decision text is escaped.
func FormatHTML(d contracts.Decision) string {
	act := strings.ToUpper(action(d))
	color := "#f0ad4e"
	if strings.Contains(act, "REROUTE") {
		color = "#d9534f"
	}
	esc := html.EscapeString

	var b strings.Builder
	b.WriteString("<html><body style='font-family:Arial,sans-serif;'>")
	fmt.Fprintf(&b, "<h2 style='color:%s;'>Route Risk Alert: %s</h2>", color, esc(d.Route))
	fmt.Fprintf(&b, "<p><b>Risk Score:</b> %s/100 (%s)</p>", formatScore(d.FinalScore), esc(string(d.Bucket)))
	fmt.Fprintf(&b, "<p><b>Predicted Delay:</b> %s days</p>", formatScore(d.PredictedDelayDays()))
	fmt.Fprintf(&b, "<p><b>Recommendation:</b> <span style='font-weight:bold'>%s</span></p>", esc(act))
	if d.Reasoning != nil {
		b.WriteString("<hr/><h4>Reasoning</h4>")
		fmt.Fprintf(&b, "<p>%s</p>", esc(d.Reasoning.Reasoning))
		b.WriteString("<h4>Alternatives</h4><ul>")
		for _, alt := range d.Reasoning.Alternatives {
			fmt.Fprintf(&b, "<li>%s</li>", esc(alt))
		}
		b.WriteString("</ul>")
	}
	if d.CostBenefit != nil {
		fmt.Fprintf(&b, "<p><b>Cost-Benefit Decision:</b> %s</p>", esc(d.CostBenefit.Recommendation))
		fmt.Fprintf(&b, "<p>%s</p>", esc(d.CostBenefit.Rationale))
	}
	b.WriteString("</body></html>")
	return b.String()
}

func action(d contracts.Decision) string {
	if d.RecommendedAction == "" {
		return risk.ActionMonitor
	}
	return d.RecommendedAction
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

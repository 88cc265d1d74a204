package risk

import (
	"math"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

const (
	ActionMonitor    = "monitor"
	ActionWait       = "wait_3_days"
	ActionRerouteNow = "reroute_now"

	rerouteRiskFloor  = 70.0
	rerouteDelayFloor = 5.0
	costBenefitFloor  = 75.0

	// DegradedConfidence marks results synthesized because reasoning was unavailable.
	DegradedConfidence = 0.40
)

var DefaultAlternatives = []string{
	"Continue normal route monitoring",
	"Increase supplier lead-time buffer",
}

// BucketPolicy holds the lower bounds of the medium, high and critical tiers.
type BucketPolicy struct {
	Medium   float64
	High     float64
	Critical float64
}

func DefaultBucketPolicy() BucketPolicy {
	return BucketPolicy{Medium: 40, High: 60, Critical: 80}
}

func (p BucketPolicy) Bucket(score float64) contracts.RiskBucket {
	switch {
	case score >= p.Critical:
		return contracts.BucketCritical
	case score >= p.High:
		return contracts.BucketHigh
	case score >= p.Medium:
		return contracts.BucketMedium
	default:
		return contracts.BucketLow
	}
}

// Blend mixes the baseline with the reasoning score. More confident reasoning
// gets more weight, capped at 0.6.
func Blend(baseline float64, reasoningScore int, confidence float64) float64 {
	w := 0.2 + 0.4*clamp(confidence, 0, 1)
	return round2(clamp((1-w)*baseline+w*float64(reasoningScore), 0, 100))
}

func ShouldReroute(finalScore, delayDays float64) bool {
	return finalScore > rerouteRiskFloor && delayDays > rerouteDelayFloor
}

type CostAssumptions struct {
	WaitDays         float64
	PrimaryDays      float64
	PrimaryCostUSD   float64
	AlternateDays    float64
	AlternateCostUSD float64
}

func DefaultCostAssumptions() CostAssumptions {
	return CostAssumptions{
		WaitDays:         3,
		PrimaryDays:      15,
		PrimaryCostUSD:   2000,
		AlternateDays:    28,
		AlternateCostUSD: 3500,
	}
}

// CostBenefit compares waiting out the disruption on the primary lane with
// rerouting immediately.
func CostBenefit(a CostAssumptions) contracts.CostBenefit {
	waitETA := a.PrimaryDays + a.WaitDays
	out := contracts.CostBenefit{
		Options: []contracts.CostOption{
			{Option: "wait", ETADays: round2(waitETA), CostPerContainerUSD: a.PrimaryCostUSD},
			{Option: ActionRerouteNow, ETADays: round2(a.AlternateDays), CostPerContainerUSD: a.AlternateCostUSD},
		},
	}
	if waitETA < a.AlternateDays {
		out.Recommendation = ActionWait
		out.Rationale = "Waiting is cheaper and still faster than the alternate route."
	} else {
		out.Recommendation = ActionRerouteNow
		out.Rationale = "Reroute is selected because waiting does not improve ETA."
	}
	return out
}

// Recommendation is the action side of a decision.
type Recommendation struct {
	Reroute     bool
	Action      string
	CostBenefit *contracts.CostBenefit
}

func Recommend(finalScore, delayDays float64, costs CostAssumptions) Recommendation {
	rec := Recommendation{
		Reroute: ShouldReroute(finalScore, delayDays),
		Action:  ActionMonitor,
	}
	if finalScore > costBenefitFloor {
		cba := CostBenefit(costs)
		rec.CostBenefit = &cba
	}
	if rec.Reroute {
		rec.Action = ActionRerouteNow
		if rec.CostBenefit != nil {
			rec.Action = rec.CostBenefit.Recommendation
		}
	}
	return rec
}

// Synthesize builds a result from the baseline alone. The delay never drops
// below half a day.
func Synthesize(baseline contracts.BaselineScore, confidence float64, reasoning string) contracts.ReasoningResult {
	alternatives := make([]string, len(DefaultAlternatives))
	copy(alternatives, DefaultAlternatives)
	return contracts.ReasoningResult{
		RiskScore:          int(math.Round(baseline.Score)),
		PredictedDelayDays: math.Max(0.5, baseline.DelayEstimateDays),
		Alternatives:       alternatives,
		Reasoning:          reasoning,
		ConfidenceScore:    confidence,
	}
}

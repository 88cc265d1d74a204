package contracts

import (
	"strings"
	"time"
)

// ScoreComponents are the normalized dimensions the baseline score is built from.
type ScoreComponents struct {
	Geopolitical          float64 `json:"geopolitical"`
	PortCongestion        float64 `json:"port_congestion"`
	Weather               float64 `json:"weather"`
	HistoricalReliability float64 `json:"historical_reliability"`
}

type BaselineScore struct {
	Route             string          `json:"route"`
	Score             float64         `json:"score"`
	DelayEstimateDays float64         `json:"delay_estimate_days"`
	Components        ScoreComponents `json:"components"`
	EventCount        int             `json:"event_count"`
	WindowStart       time.Time       `json:"window_start"`
	WindowEnd         time.Time       `json:"window_end"`
}

// ReasoningResult is the strict output of the reasoning step.
type ReasoningResult struct {
	RiskScore          int      `json:"risk_score"`
	PredictedDelayDays float64  `json:"predicted_delay_days"`
	Alternatives       []string `json:"alternatives"`
	Reasoning          string   `json:"reasoning"`
	ConfidenceScore    float64  `json:"confidence_score"`
}

type ReasoningCacheEntry struct {
	CacheKey  string          `json:"cache_key"`
	Response  ReasoningResult `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Live reports whether the entry may still be served at now.
func (e ReasoningCacheEntry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

type RiskBucket string

const (
	BucketLow      RiskBucket = "low"
	BucketMedium   RiskBucket = "medium"
	BucketHigh     RiskBucket = "high"
	BucketCritical RiskBucket = "critical"
)

func (b RiskBucket) Rank() int {
	switch b {
	case BucketCritical:
		return 3
	case BucketHigh:
		return 2
	case BucketMedium:
		return 1
	default:
		return 0
	}
}

func ParseRiskBucket(raw string) (RiskBucket, bool) {
	b := RiskBucket(strings.ToLower(strings.TrimSpace(raw)))
	switch b {
	case BucketLow, BucketMedium, BucketHigh, BucketCritical:
		return b, true
	default:
		return "", false
	}
}

type CostOption struct {
	Option              string  `json:"option"`
	ETADays             float64 `json:"eta_days"`
	CostPerContainerUSD float64 `json:"cost_per_container_usd"`
}

type CostBenefit struct {
	Options        []CostOption `json:"options"`
	Recommendation string       `json:"recommendation"`
	Rationale      string       `json:"rationale"`
}

// Decision is the transient outcome of one route evaluation. It is consumed
// by the dispatcher and survives only as the dispatch log payload snapshot.
type Decision struct {
	Route             string           `json:"route"`
	Baseline          BaselineScore    `json:"baseline"`
	Reasoning         *ReasoningResult `json:"reasoning,omitempty"`
	Escalated         bool             `json:"escalated"`
	CacheHit          bool             `json:"cache_hit"`
	Degraded          bool             `json:"degraded"`
	FinalScore        float64          `json:"final_score"`
	Bucket            RiskBucket       `json:"risk_bucket"`
	Reroute           bool             `json:"reroute"`
	RecommendedAction string           `json:"recommended_action"`
	CostBenefit       *CostBenefit     `json:"cost_benefit,omitempty"`
	EvaluatedAt       time.Time        `json:"evaluated_at"`
}

// PredictedDelayDays prefers the reasoning estimate over the baseline one.
func (d Decision) PredictedDelayDays() float64 {
	if d.Reasoning != nil {
		return d.Reasoning.PredictedDelayDays
	}
	return d.Baseline.DelayEstimateDays
}

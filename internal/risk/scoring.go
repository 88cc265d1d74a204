package risk

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
)

const (
	weightGeopolitical   = 0.35
	weightPortCongestion = 0.30
	weightWeather        = 0.20
	weightReliability    = 0.15

	disruptionSeverity = 70
	reliabilityCeiling = 90.0
	reliabilityFloor   = 20.0
	reliabilityPenalty = 5.0
)

// Engine computes the deterministic baseline score for one route. It holds
// no state beyond its configuration and is safe for concurrent use.
type Engine struct {
	halfLife time.Duration
}

func NewEngine(halfLife time.Duration) *Engine {
	return &Engine{halfLife: halfLife}
}

// Score aggregates the route's events into a BaselineScore. Recency is measured
// against windowEnd, never the wall clock, so identical inputs give identical
// outputs. An empty event set scores 0.
func (e *Engine) Score(route string, events []contracts.RiskEvent, windowStart, windowEnd time.Time) contracts.BaselineScore {
	result := contracts.BaselineScore{
		Route:       route,
		EventCount:  len(events),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
	if len(events) == 0 {
		return result
	}

	components, mix := e.components(events, windowEnd)
	score := round2(clamp(Combine(components), 0, 100))

	result.Components = components
	result.Score = score
	result.DelayEstimateDays = delayEstimate(score, mix)
	return result
}

// Combine applies the fixed component weights.
func Combine(c contracts.ScoreComponents) float64 {
	return round2(weightGeopolitical*c.Geopolitical +
		weightPortCongestion*c.PortCongestion +
		weightWeather*c.Weather +
		weightReliability*(100-c.HistoricalReliability))
}

type typeMix struct {
	port    float64
	weather float64
}

func (e *Engine) components(events []contracts.RiskEvent, windowEnd time.Time) (contracts.ScoreComponents, typeMix) {
	values := make(map[contracts.EventType][]float64, 4)
	weights := make(map[contracts.EventType][]float64, 4)
	totalWeight := 0.0
	disruptions := 0

	for _, ev := range events {
		severity := clamp(float64(ev.Severity), 0, 100)
		confidence := clamp(ev.Confidence, 0, 1)
		w := e.recencyWeight(ev.EventTime, windowEnd)

		values[ev.EventType] = append(values[ev.EventType], severity*confidence)
		weights[ev.EventType] = append(weights[ev.EventType], w)
		totalWeight += w

		if ev.Severity >= disruptionSeverity {
			disruptions++
		}
	}

	mean := func(t contracts.EventType) float64 {
		if len(values[t]) == 0 {
			return 0
		}
		m := stat.Mean(values[t], weights[t])
		if math.IsNaN(m) {
			return 0
		}
		return math.Min(100, m)
	}

	share := func(t contracts.EventType) float64 {
		if totalWeight == 0 {
			return 0
		}
		sum := 0.0
		for _, w := range weights[t] {
			sum += w
		}
		return sum / totalWeight
	}

	components := contracts.ScoreComponents{
		Geopolitical:          round2(mean(contracts.EventGeopolitical)),
		PortCongestion:        round2(mean(contracts.EventPortCongestion)),
		Weather:               round2(mean(contracts.EventWeather)),
		HistoricalReliability: math.Max(reliabilityFloor, reliabilityCeiling-float64(disruptions)*reliabilityPenalty),
	}
	return components, typeMix{
		port:    share(contracts.EventPortCongestion),
		weather: share(contracts.EventWeather),
	}
}

// recencyWeight halves an event's influence every half-life before windowEnd.
func (e *Engine) recencyWeight(eventTime, windowEnd time.Time) float64 {
	if e.halfLife <= 0 {
		return 1
	}
	age := windowEnd.Sub(eventTime)
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, age.Hours()/e.halfLife.Hours())
}

// delayEstimate is monotonic in score for a fixed event mix. Port congestion
// and weather stretch transit more than geopolitical signals.
func delayEstimate(score float64, mix typeMix) float64 {
	if score <= 0 {
		return 0
	}
	factor := 1 + 0.25*mix.port + 0.15*mix.weather
	return round2(score / 20 * factor)
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

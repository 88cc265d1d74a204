package contracts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventGeopolitical   EventType = "Geopolitical"
	EventWeather        EventType = "Weather"
	EventPortCongestion EventType = "PortCongestion"
	EventOther          EventType = "Other"
)

func (t EventType) Valid() bool {
	switch t {
	case EventGeopolitical, EventWeather, EventPortCongestion, EventOther:
		return true
	default:
		return false
	}
}

// RiskEvent is a normalized disruption signal tied to a route. Events are
// immutable once created and validated at the ingestion boundary.
type RiskEvent struct {
	ID          string    `json:"id"`
	EventType   EventType `json:"event_type"`
	GeoLocation string    `json:"geo_location"`
	Severity    int       `json:"severity"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Route       string    `json:"route"`
	EventTime   time.Time `json:"event_time"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

var ErrInvalidEvent = errors.New("invalid risk event")

func (e RiskEvent) Validate() error {
	switch {
	case !e.EventType.Valid():
		return fmt.Errorf("%w: unknown event_type %q", ErrInvalidEvent, e.EventType)
	case e.Severity < 0 || e.Severity > 100:
		return fmt.Errorf("%w: severity %d outside [0,100]", ErrInvalidEvent, e.Severity)
	case e.Confidence < 0 || e.Confidence > 1:
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidEvent, e.Confidence)
	case strings.TrimSpace(e.Route) == "":
		return fmt.Errorf("%w: route is required", ErrInvalidEvent)
	case e.EventTime.IsZero():
		return fmt.Errorf("%w: event_time is required", ErrInvalidEvent)
	}
	return nil
}

// Fingerprint identifies the event content for prompt and log purposes.
func (e RiskEvent) Fingerprint() string {
	return fmt.Sprintf("%s:%s:%d", e.EventType, e.GeoLocation, e.Severity)
}

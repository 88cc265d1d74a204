package main

import (
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/httpx"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/mq"
)

const manualSource = "manual_simulation"

// eventRequest is a manually injected event. EventTime wins over HoursAgo.
type eventRequest struct {
	EventType   contracts.EventType `json:"event_type"`
	GeoLocation string              `json:"geo_location"`
	Severity    int                 `json:"severity"`
	Confidence  float64             `json:"confidence"`
	Description string              `json:"description"`
	Source      string              `json:"source"`
	Route       string              `json:"route"`
	EventTime   *time.Time          `json:"event_time"`
	HoursAgo    float64             `json:"hours_ago"`
}

func (req eventRequest) toEvent(now time.Time) contracts.RiskEvent {
	event := contracts.RiskEvent{
		ID:          uuid.NewString(),
		EventType:   req.EventType,
		GeoLocation: strings.TrimSpace(req.GeoLocation),
		Severity:    req.Severity,
		Confidence:  req.Confidence,
		Description: strings.TrimSpace(req.Description),
		Source:      strings.TrimSpace(req.Source),
		Route:       strings.TrimSpace(req.Route),
		EventTime:   now.Add(-time.Duration(math.Max(0, req.HoursAgo) * float64(time.Hour))),
	}
	if req.EventTime != nil {
		event.EventTime = req.EventTime.UTC()
	}
	if event.EventType == "" {
		event.EventType = contracts.EventGeopolitical
	}
	if event.GeoLocation == "" {
		event.GeoLocation = "Simulated"
	}
	if event.Source == "" {
		event.Source = manualSource
	}
	return event
}

func newRouter(writer mq.MessageWriter, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "ingest"})
	})

	router.Post("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.WriteDecodeError(w, err)
			return
		}

		event := req.toEvent(time.Now().UTC())
		if err := event.Validate(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := mq.PublishJSON(r.Context(), writer, event.Route, event); err != nil {
			logger.Error("publish event failed", slog.String("route", event.Route), logging.Err(err))
			httpx.WriteError(w, http.StatusInternalServerError, "event could not be published")
			return
		}

		logger.Info("event accepted",
			slog.String("id", event.ID),
			slog.String("route", event.Route),
			slog.String("event_type", string(event.EventType)),
			slog.Int("severity", event.Severity))
		httpx.WriteJSON(w, http.StatusAccepted, event)
	})
	return router
}

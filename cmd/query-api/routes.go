package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/httpx"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/stream"
)

type readStore interface {
	Ping(ctx context.Context) error
	ListRiskEvents(ctx context.Context, route string, limit int) ([]contracts.RiskEvent, error)
	ListDispatches(ctx context.Context, status, route string, limit int) ([]contracts.DispatchRecord, error)
	ListDispatchAttempts(ctx context.Context, dispatchID int64) ([]storage.DispatchAttempt, error)
	DispatchSummary(ctx context.Context, maxAttempts int) (storage.DispatchSummary, error)
}

type api struct {
	repo        readStore
	maxAttempts int
	logger      *slog.Logger
}

func (a *api) routes(rdb *redis.Client) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.repo.Ping(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "query-api"})
	})

	if rdb != nil {
		router.Get("/v1/stream", stream.Handler(rdb, a.logger))
	}

	router.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(15 * time.Second))

		g.Get("/v1/events", func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Query().Get("route")
			limit := parseLimit(r.URL.Query().Get("limit"), 100)

			events, err := a.repo.ListRiskEvents(r.Context(), route, limit)
			if err != nil {
				a.internalError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": events})
		})

		g.Get("/v1/dispatches", func(w http.ResponseWriter, r *http.Request) {
			status := r.URL.Query().Get("status")
			switch contracts.DispatchStatus(status) {
			case "", contracts.StatusPending, contracts.StatusSent, contracts.StatusFailed:
			default:
				httpx.WriteError(w, http.StatusBadRequest, "status must be pending, sent or failed")
				return
			}
			route := r.URL.Query().Get("route")
			limit := parseLimit(r.URL.Query().Get("limit"), 100)

			records, err := a.repo.ListDispatches(r.Context(), status, route, limit)
			if err != nil {
				a.internalError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": records})
		})

		g.Get("/v1/dispatches/summary", func(w http.ResponseWriter, r *http.Request) {
			summary, err := a.repo.DispatchSummary(r.Context(), a.maxAttempts)
			if err != nil {
				a.internalError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, summary)
		})

		g.Get("/v1/dispatches/{id}/attempts", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil || id <= 0 {
				httpx.WriteError(w, http.StatusBadRequest, "id must be a positive integer")
				return
			}
			attempts, err := a.repo.ListDispatchAttempts(r.Context(), id)
			if err != nil {
				a.internalError(w, err)
				return
			}
			if len(attempts) == 0 {
				httpx.WriteError(w, http.StatusNotFound, "dispatch not found")
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"dispatch_id": id, "items": attempts})
		})
	})

	return router
}

func (a *api) internalError(w http.ResponseWriter, err error) {
	a.logger.Error("query failed", logging.Err(err))
	httpx.WriteError(w, http.StatusInternalServerError, "query failed")
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if n <= 0 {
		return fallback
	}
	return n
}

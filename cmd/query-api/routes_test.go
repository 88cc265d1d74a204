package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/contracts"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/logging"
	"github.com/shiroonigami23-ui/route-risk-sentinel/internal/storage"
)

type fakeStore struct {
	pingErr     error
	queryErr    error
	lastStatus  string
	lastRoute   string
	lastLimit   int
	maxAttempts int
	attempts    map[int64][]storage.DispatchAttempt
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListRiskEvents(_ context.Context, route string, limit int) ([]contracts.RiskEvent, error) {
	f.lastRoute, f.lastLimit = route, limit
	return []contracts.RiskEvent{{ID: "e1", Route: route}}, f.queryErr
}

func (f *fakeStore) ListDispatches(_ context.Context, status, route string, limit int) ([]contracts.DispatchRecord, error) {
	f.lastStatus, f.lastRoute, f.lastLimit = status, route, limit
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return []contracts.DispatchRecord{{ID: 7, Route: route, Status: contracts.StatusSent}}, nil
}

func (f *fakeStore) ListDispatchAttempts(_ context.Context, id int64) ([]storage.DispatchAttempt, error) {
	return f.attempts[id], nil
}

func (f *fakeStore) DispatchSummary(_ context.Context, maxAttempts int) (storage.DispatchSummary, error) {
	f.maxAttempts = maxAttempts
	return storage.DispatchSummary{Sent24h: 4, Exhausted: 1}, nil
}

func get(t *testing.T, store *fakeStore, target string) *httptest.ResponseRecorder {
	t.Helper()
	a := &api{repo: store, maxAttempts: 3, logger: logging.Discard()}
	rec := httptest.NewRecorder()
	a.routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, &fakeStore{}, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, &fakeStore{pingErr: errors.New("down")}, "/healthz").Code)
}

func TestListDispatches(t *testing.T) {
	store := &fakeStore{}
	rec := get(t, store, "/v1/dispatches?status=failed&route=Red%20Sea%20-%3E%20India&limit=20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", store.lastStatus)
	assert.Equal(t, "Red Sea -> India", store.lastRoute)
	assert.Equal(t, 20, store.lastLimit)

	var body struct {
		Items []contracts.DispatchRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.EqualValues(t, 7, body.Items[0].ID)

	assert.Equal(t, http.StatusBadRequest, get(t, store, "/v1/dispatches?status=acknowledged").Code)
	failed := get(t, &fakeStore{queryErr: errors.New("boom")}, "/v1/dispatches")
	assert.Equal(t, http.StatusInternalServerError, failed.Code)
	assert.JSONEq(t, `{"error": "query failed"}`, failed.Body.String())
}

func TestListEventsDefaultsLimit(t *testing.T) {
	store := &fakeStore{}
	rec := get(t, store, "/v1/events?limit=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, store.lastLimit)
}

func TestDispatchSummary(t *testing.T) {
	store := &fakeStore{}
	rec := get(t, store, "/v1/dispatches/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, store.maxAttempts)
	assert.Contains(t, rec.Body.String(), `"sent_last_24h":4`)
}

func TestDispatchAttempts(t *testing.T) {
	store := &fakeStore{attempts: map[int64][]storage.DispatchAttempt{
		7: {{AttemptNumber: 1, Status: "failed"}, {AttemptNumber: 2, Status: "sent"}},
	}}
	rec := get(t, store, "/v1/dispatches/7/attempts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"attempt_number":2`)

	assert.Equal(t, http.StatusNotFound, get(t, store, "/v1/dispatches/8/attempts").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, store, "/v1/dispatches/x/attempts").Code)
}

func TestRunFailsWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	assert.Error(t, run())
}

package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routeBody struct {
	Route string `json:"route"`
}

func decode(t *testing.T, body string) (routeBody, error) {
	t.Helper()
	var dst routeBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dst, DecodeJSON(httptest.NewRecorder(), req, &dst)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]any{"ok": true})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "dispatch not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "dispatch not found"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	got, err := decode(t, `{"route": "A"}`)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Route)

	_, err = decode(t, `{"route": "A", "extra": 1}`)
	assert.Error(t, err)

	_, err = decode(t, `{"route": "A"} {"route": "B"}`)
	assert.ErrorIs(t, err, ErrTrailingData)

	_, err = decode(t, ``)
	assert.ErrorIs(t, err, ErrEmptyBody)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), req, &routeBody{}), ErrEmptyBody)
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	body := `{"route": "` + strings.Repeat("x", MaxBodyBytes) + `"}`
	_, err := decode(t, body)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	WriteDecodeError(rec, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	WriteDecodeError(rec, errors.New("bad json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error": "bad json"}`, rec.Body.String())
}

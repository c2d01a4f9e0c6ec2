package mapkit

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trades-finder/internal/observability"
)

func TestHandlerTokenAllowedOrigin(t *testing.T) {
	signer, key := newTestSigner(t)
	h := NewHandler(signer, observability.NewLoggerTo(&bytes.Buffer{}))

	req := httptest.NewRequest(http.MethodGet, "/api/mapkit-token", nil)
	req.Header.Set("Origin", "https://trades.example.com")
	rec := httptest.NewRecorder()
	h.Token(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	_, c := parseToken(t, rec.Body.String(), key)
	assert.Equal(t, "https://trades.example.com,http://localhost:3000", c.Origin)
}

func TestHandlerTokenRefererFallback(t *testing.T) {
	signer, _ := newTestSigner(t)
	h := NewHandler(signer, observability.NewLoggerTo(&bytes.Buffer{}))

	req := httptest.NewRequest(http.MethodGet, "/api/mapkit-token", nil)
	req.Header.Set("Referer", "http://localhost:3000/saved")
	rec := httptest.NewRecorder()
	h.Token(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerTokenRejectsOrigin(t *testing.T) {
	signer, _ := newTestSigner(t)
	var logs bytes.Buffer
	h := NewHandler(signer, observability.NewLoggerTo(&logs))

	for _, origin := range []string{"https://evil.example.com", ""} {
		req := httptest.NewRequest(http.MethodGet, "/api/mapkit-token", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		h.Token(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code, origin)
		assert.NotContains(t, rec.Body.String(), "ey")
	}
	assert.Contains(t, logs.String(), "mapkit_origin_rejected")
}

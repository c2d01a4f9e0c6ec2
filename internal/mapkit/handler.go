package mapkit

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"trades-finder/internal/observability"
)

type Handler struct {
	signer *Signer
	logger *observability.Logger
}

func NewHandler(signer *Signer, logger *observability.Logger) *Handler {
	return &Handler{signer: signer, logger: logger}
}

// Token answers GET /api/mapkit-token with a browser token as plain text.
// Requests whose origin is missing or not allowed get 403.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	origin := RequestOrigin(r)
	token, err := h.signer.BrowserToken(origin)
	if err != nil {
		if errors.Is(err, ErrOriginNotAllowed) {
			observability.OriginRejections.Inc()
			h.logger.Warn("mapkit_origin_rejected", map[string]any{
				"origin": origin,
				"ip":     observability.ClientIP(r),
			})
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		h.logger.Error("mapkit_token_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		http.Error(w, "failed to mint token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Vary", "Origin")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(token))
}

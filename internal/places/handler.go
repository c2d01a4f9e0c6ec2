package places

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"trades-finder/internal/mapkit"
	"trades-finder/internal/observability"
)

type Handler struct {
	client *Client
	logger *observability.Logger
}

func NewHandler(client *Client, logger *observability.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	payload, err := h.client.Search(r.Context(), Query{
		Text: query.Get("q"),
		Near: query.Get("near"),
		City: query.Get("city"),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, "invalid search query")
			return
		}

		var upstream *mapkit.UpstreamError
		if errors.As(err, &upstream) {
			h.logger.Warn("places_upstream_failed", map[string]any{"status": upstream.Status, "error": err.Error()})
			sentry.CaptureException(err)
			writeError(w, http.StatusBadGateway, "mapping provider unavailable")
			return
		}

		h.logger.Error("places_search_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to search places")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

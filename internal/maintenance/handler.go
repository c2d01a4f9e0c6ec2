package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"trades-finder/internal/auth"
	"trades-finder/internal/observability"
)

type Cleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, batchSize int) (auth.CleanupResult, error)
}

// CleanupHandler is the cron entry point that sweeps expired sessions and
// email tokens. Request-path expiry does not depend on it.
type CleanupHandler struct {
	cleaner    Cleaner
	logger     *observability.Logger
	cronSecret string
	batchSize  int
	now        func() time.Time
}

func NewCleanupHandler(cleaner Cleaner, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		cleaner:    cleaner,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.cleaner.CleanupExpired(r.Context(), h.now(), h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_sessions":     result.DeletedSessions,
		"deleted_email_tokens": result.DeletedEmailTokens,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

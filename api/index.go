package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"trades-finder/internal/app"
	"trades-finder/internal/observability"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entry point. The runtime is built on the first
// invocation and reused by warm instances; migrations only run when
// RUN_MIGRATIONS_ON_STARTUP is set.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
		if initErr != nil {
			observability.NewLogger().Error("bootstrap_failed", map[string]any{"error": initErr.Error()})
			observability.CaptureError(initErr, map[string]string{"stage": "bootstrap"})
		}
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "service unavailable"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}

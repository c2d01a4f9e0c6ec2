package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_http_requests_total",
		Help: "HTTP requests by method and status code.",
	}, []string{"method", "status"})

	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_auth_login_attempts_total",
		Help: "Login attempts by outcome.",
	}, []string{"result"})

	SignedAssertions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_mapkit_assertions_minted_total",
		Help: "Signed assertions minted for the mapping provider, by audience.",
	}, []string{"audience"})

	AccessCredentialLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_mapkit_access_credential_lookups_total",
		Help: "Access credential cache lookups by result (hit, refresh, error).",
	}, []string{"result"})

	OriginRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trades_mapkit_origin_rejections_total",
		Help: "Browser token requests rejected by the origin allow-list.",
	})
)

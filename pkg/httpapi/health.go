package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/health"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

// HealthResponse is the body GET /healthz returns.
type HealthResponse struct {
	Status string           `json:"status"`
	Store  string           `json:"store"`
	Fleet  *health.Snapshot `json:"fleet,omitempty"`
}

// Healthz returns a handler reporting whether the shared store is reachable
// via a direct Ping, plus an opportunistic fleet health.Snapshot when source
// is non-nil. Neither input retunes any limiter decision; this endpoint only
// reports liveness for a fleet of stateless frontends to be deployable
// against.
func Healthz(driver store.Driver, source health.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fleet *health.Snapshot
		if source != nil {
			if snap, err := source.FetchSnapshot(); err == nil {
				fleet = &snap
			}
		}

		if err := driver.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "unreachable", Fleet: fleet})
			return
		}
		c.JSON(http.StatusOK, HealthResponse{Status: "ok", Store: "reachable", Fleet: fleet})
	}
}

// Metrics exposes reg's collectors in the Prometheus text exposition format,
// re-homing the teacher's prometheus/client_golang dependency onto the
// instrumentation side (see pkg/ratelimit's AnalyticsRecorder).
func Metrics(reg *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

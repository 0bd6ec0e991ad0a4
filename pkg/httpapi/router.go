package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/health"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/ratelimit"
	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/store"
)

// NewRouter assembles the gin.Engine fronting the rate-limit decision
// engine: the three demo endpoints spec.md's default policy table names
// (/api/search, /api/checkout, /api/profile), each behind the RateLimit
// middleware, plus GET /healthz. source may be nil, in which case /healthz
// reports store reachability only.
func NewRouter(engine *ratelimit.Engine, driver store.Driver, source health.Source, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", Healthz(driver, source))

	api := router.Group("/api")
	api.Use(RateLimit(engine, logger))
	{
		api.GET("/search", demoHandler("search"))
		api.POST("/checkout", demoHandler("checkout"))
		api.GET("/profile", demoHandler("profile"))
	}

	return router
}

// demoHandler stands in for the real endpoint business logic this service
// fronts; its only job is to exist behind the rate-limit middleware and
// echo back the decision the middleware already computed.
func demoHandler(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"endpoint": name}
		if decision, ok := DecisionFromContext(c); ok {
			body["remaining"] = decision.Remaining
		}
		c.JSON(http.StatusOK, body)
	}
}

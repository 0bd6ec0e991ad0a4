// Package httpapi implements the HTTP boundary in front of the rate-limit
// decision engine: a gin middleware translating the x-user-id/x-user-tier/
// x-region/x-cost request headers into a ratelimit.RequestDescriptor, and
// the engine's Decision into the X-RateLimit-* response headers and 429/503
// bodies spec.md §6 fixes bit-exact for existing clients. Modeled on the
// keyFunc/Handler() shape of tbourn/chatbot's rate-limit middleware
// (other_examples/), adapted from a local token bucket to a call into a
// shared decision engine.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Rejohnbd/Smart-Rate-Limiting-Service/pkg/ratelimit"
)

const (
	headerUserID   = "x-user-id"
	headerUserTier = "x-user-tier"
	headerRegion   = "x-region"
	headerCost     = "x-cost"

	defaultIdentity = "anonymous"
	defaultTier     = "free"
	defaultRegion   = "US"
	defaultCost     = int64(1)
)

// decisionContextKey is where RateLimit stashes the Decision for downstream
// handlers that want to inspect it (e.g. to render remaining quota in a
// response body).
const decisionContextKey = "ratelimit.decision"

// RateLimit returns gin middleware enforcing engine's policy for every
// request it wraps. The endpoint identity passed to the engine is the
// request's registered route pattern (c.FullPath()), falling back to the
// raw URL path for unmatched routes, so "/api/search" and "/api/search/"
// share one bucket regardless of trailing slash handling.
func RateLimit(engine *ratelimit.Engine, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		req := parseRequest(c)

		decision, err := checkLimitSafely(c, engine, req)
		if err != nil {
			logger.Error("ratelimit: engine exception, failing closed at the HTTP boundary",
				zap.Error(err), zap.String("identity", req.Identity), zap.String("endpoint", req.Endpoint))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		c.Header("X-RateLimit-Allowed", strconv.FormatBool(decision.Allowed))
		c.Header("X-RateLimit-RetryAfter", strconv.FormatInt(decision.RetryAfterSeconds, 10))

		c.Set(decisionContextKey, decision)

		if !decision.Allowed {
			logger.Info("ratelimit: request denied",
				zap.String("identity", req.Identity), zap.String("endpoint", req.Endpoint),
				zap.Int64("retry_after", decision.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": decision.RetryAfterSeconds,
				"remaining":  decision.Remaining,
			})
			return
		}

		c.Next()
	}
}

// checkLimitSafely calls engine.CheckLimit under a recover, converting any
// panic into an error. spec.md §7 states the engine never raises out of
// check_limit; this is the HTTP boundary's own defense-in-depth, matching
// §6's "503 on engine exception" clause for a contract violation that by
// design should not happen.
func checkLimitSafely(c *gin.Context, engine *ratelimit.Engine, req ratelimit.RequestDescriptor) (decision ratelimit.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engineExceptionError{cause: r}
		}
	}()
	decision = engine.CheckLimit(c.Request.Context(), req)
	return decision, nil
}

type engineExceptionError struct {
	cause interface{}
}

func (e *engineExceptionError) Error() string {
	return fmt.Sprintf("ratelimit engine panicked: %v", e.cause)
}

// parseRequest builds a ratelimit.RequestDescriptor from c's headers and
// route, applying spec.md §6's defaults for anything absent or malformed.
func parseRequest(c *gin.Context) ratelimit.RequestDescriptor {
	identity := c.GetHeader(headerUserID)
	if identity == "" {
		identity = defaultIdentity
	}

	tier := c.GetHeader(headerUserTier)
	if tier == "" {
		tier = defaultTier
	}

	region := c.GetHeader(headerRegion)
	if region == "" {
		region = defaultRegion
	}

	cost := defaultCost
	if raw := c.GetHeader(headerCost); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cost = parsed
		}
	}

	endpoint := c.FullPath()
	if endpoint == "" {
		endpoint = c.Request.URL.Path
	}

	return ratelimit.NewRequest(identity, endpoint, tier, region, cost)
}

// DecisionFromContext recovers the Decision RateLimit stored for this
// request, for handlers that want to echo quota details in their own
// response payload.
func DecisionFromContext(c *gin.Context) (ratelimit.Decision, bool) {
	v, ok := c.Get(decisionContextKey)
	if !ok {
		return ratelimit.Decision{}, false
	}
	d, ok := v.(ratelimit.Decision)
	return d, ok
}

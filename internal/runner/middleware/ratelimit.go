package middleware

import (
	"fmt"
	"time"

	"coderunner/internal/runner/service"
	"coderunner/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	UserMax  int           `yaml:"userMax"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// RateLimitMiddleware enforces per-route rate limiting.
func RateLimitMiddleware(rateService *service.RateLimitService, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rateService == nil {
			c.Next()
			return
		}
		window := policy.Window
		clientIP := c.ClientIP()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("coderunner:rate:ip:%s:%s", clientIP, routeKey)
			if err := rateService.Allow(c.Request.Context(), key, policy.IPMax, window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}

		if policy.UserMax > 0 {
			if userID, ok := c.Get("user_id"); ok {
				key := fmt.Sprintf("coderunner:rate:user:%v:%s", userID, routeKey)
				if err := rateService.Allow(c.Request.Context(), key, policy.UserMax, window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}

		if policy.RouteMax > 0 {
			key := fmt.Sprintf("coderunner:rate:route:%s", routeKey)
			if err := rateService.Allow(c.Request.Context(), key, policy.RouteMax, window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}

		c.Next()
	}
}

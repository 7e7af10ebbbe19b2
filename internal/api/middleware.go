package api

import (
	"strconv"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/metrics"
)

var knownRoutes = map[string]bool{
	"/chats":    true,
	"/messages": true,
	"/healthz":  true,
	"/metrics":  true,
}

// routeLabel keeps metric cardinality bounded.
func routeLabel(route string) string {
	if knownRoutes[route] {
		return route
	}
	return "other"
}

// requestLogger logs and counts every request echo serves. Health and
// metrics scrapes are counted but not logged.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		HandleError:  true,
		LogLatency:   true,
		LogMethod:    true,
		LogURIPath:   true,
		LogRoutePath: true,
		LogStatus:    true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			route := routeLabel(v.RoutePath)
			metrics.HTTPRequests.WithLabelValues(route, v.Method, strconv.Itoa(v.Status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route, v.Method).Observe(v.Latency.Seconds())

			if route == "/metrics" || route == "/healthz" {
				return nil
			}
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("elapsed", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

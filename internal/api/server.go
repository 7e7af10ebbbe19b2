package api

import (
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewServer returns the complete HTTP surface: the routes of h, the
// prometheus endpoint and request logging.
func NewServer(h *Handler, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.Use(requestLogger(logger))

	h.Register(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

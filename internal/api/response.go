package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/digimate-ai/digimate/internal/store"
)

// Response is the envelope every route answers with.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	Count     *int      `json:"count,omitempty"`
	Total     *int      `json:"total,omitempty"`
	HasMore   *bool     `json:"hasMore,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) respond(c *echo.Context, status int, resp Response) error {
	resp.Timestamp = h.now()
	return c.JSON(status, resp)
}

func (h *Handler) ok(c *echo.Context, status int, data any, message string) error {
	return h.respond(c, status, Response{Success: true, Data: data, Message: message})
}

func (h *Handler) invalid(c *echo.Context, message string) error {
	return h.respond(c, http.StatusBadRequest, Response{Error: message})
}

// fail writes err with the status its kind maps to. summary names the
// operation that failed. Backend details are logged, not returned.
func (h *Handler) fail(c *echo.Context, summary string, err error) error {
	status := statusFor(err)
	resp := Response{Error: summary, Message: err.Error()}
	switch status {
	case http.StatusNotFound:
		resp.Error = "Not found"
	case http.StatusServiceUnavailable:
		resp.Message = "storage is temporarily unavailable"
	case http.StatusInternalServerError:
		resp.Message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(summary,
			zap.String("path", c.Request().URL.Path),
			zap.Error(err))
	}
	return h.respond(c, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intPtr(n int) *int { return &n }

func boolPtr(b bool) *bool { return &b }

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const genericMessage = "An unexpected error occurred. Please try again later."

// HTTPError carries the status a handler wants to answer with
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string { return e.Message }

func badRequest(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg}
}

type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   msg,
	})
}

// ErrorTranslator turns the last error a handler attached with c.Error into
// the JSON error body. Unknown errors become a 500 with a generic message.
func ErrorTranslator(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var httpErr *HTTPError
		if errors.As(last.Err, &httpErr) {
			writeError(c, httpErr.Status, httpErr.Message)
			return
		}

		logger.Error("Unhandled request error",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(last.Err),
		)
		writeError(c, http.StatusInternalServerError, genericMessage)
	}
}

package middleware

import (
	"net/http"
	"strconv"

	"parley/internal/services"
	"parley/internal/transport/httpdto"
	parley_errors "parley/pkg/errors"
	"parley/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error attached with c.Error when the handler
// did not write a response itself.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		abortWithError(c, l, c.Errors.Last().Err)
	}
}

// abortWithError writes the JSON error envelope for err using the shared
// status and code mapping.
func abortWithError(c *gin.Context, l *logger.Logger, err error) {
	status := services.HTTPStatus(err)
	if l != nil {
		if status >= http.StatusInternalServerError {
			l.With(c.Request.Context()).Errorf("request error: %v", err)
		} else {
			l.With(c.Request.Context()).Infof("request rejected (%d): %v", status, err)
		}
	}
	if after, ok := parley_errors.RetryAfter(err); ok {
		secs := int(after.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.AbortWithStatusJSON(status, httpdto.NewErrorResponse(services.PublicMessage(err), services.ErrorCode(err)))
}

package middleware

import (
	"errors"
	"net/http"

	"payhuk-core/pkg/errutil"
	"payhuk-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error a handler attached with c.Error. Domain
// errors keep their code; anything else is reported as internal.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if !errors.As(last.Err, &be) {
			logger.FromContext(c.Request.Context()).Error("[HTTP] unhandled error",
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
			be = errutil.BaseError{Code: errutil.StatusInternal, Message: "internal error"}
		} else if be.Code.HTTPStatus() >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context()).Warn("[HTTP] request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", string(be.Code)),
				zap.Error(last.Err),
			)
		}

		c.JSON(be.Code.HTTPStatus(), be.JSON())
	}
}

package middleware

import (
	"errors"
	"net/http"

	"license-accrual/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error a handler attached with c.Error. BaseErrors
// keep their status; anything else becomes a 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: last.Err.Error(),
		}.JSON())
	}
}

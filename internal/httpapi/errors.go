package httpapi

import (
	"net/http"

	"sales-call-pipeline/pkg/apperr"
	"sales-call-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, err error) {
	abortWithError(c, err, gin.H{})
}

// abortWithError adds error and kind to body and responds with the status
// mapped from err's kind.
func abortWithError(c *gin.Context, err error, body gin.H) {
	status := apperr.HTTPStatus(err)
	kind := apperr.GetKind(err)
	if kind == apperr.KindUnknown {
		kind = apperr.KindInternal
	}
	body["error"] = err.Error()
	body["kind"] = kind.String()

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "error", err.Error(), "kind", kind.String())
	}
	c.AbortWithStatusJSON(status, body)
}

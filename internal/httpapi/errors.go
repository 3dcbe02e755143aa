package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"liveconnect/internal/apperr"
	"liveconnect/pkg/logger"
)

var statusByCode = map[string]int{
	apperr.CodeNotFound:        http.StatusNotFound,
	apperr.CodeForbidden:       http.StatusForbidden,
	apperr.CodeInvalidRequest:  http.StatusBadRequest,
	apperr.CodeConflict:        http.StatusConflict,
	apperr.CodeTargetBusy:      http.StatusConflict,
	apperr.CodeRequesterBusy:   http.StatusConflict,
	apperr.CodeTargetOffline:   http.StatusUnprocessableEntity,
	apperr.CodeRequestRequired: http.StatusUnprocessableEntity,
}

// StatusFor maps an error from the services to an HTTP status.
func StatusFor(err error) int {
	if s, ok := statusByCode[apperr.Code(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// abortWithError writes {"error", "code"}. Internal errors are logged and not echoed.
func abortWithError(c *gin.Context, err error) {
	code := apperr.Code(err)
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err, "path", c.FullPath())
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error", "code": code})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

func abortInvalid(c *gin.Context, msg string) {
	abortWithError(c, errors.Join(apperr.ErrInvalidRequest, errors.New(msg)))
}

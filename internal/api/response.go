package api

import (
	"net/http"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"github.com/gin-gonic/gin"
)

const (
	statusOK      = "ok"
	statusApplied = "applied"

	errInvalidBodyPref = "invalid body: "
)

var codeStatus = map[errors.ErrorCode]int{
	errors.ErrInvalidValue:            http.StatusBadRequest,
	errors.ErrInvalidArgument:         http.StatusBadRequest,
	errors.ErrInvalidInterval:         http.StatusBadRequest,
	errors.ErrUnknownChannel:          http.StatusNotFound,
	errors.ErrUnknownProfile:          http.StatusNotFound,
	errors.ErrOverriddenBySafety:      http.StatusConflict,
	errors.ErrUnsafeBelowFloor:        http.StatusConflict,
	errors.ErrDeviceUnavailable:       http.StatusServiceUnavailable,
	errors.ErrTimeout:                 http.StatusGatewayTimeout,
	errors.ErrProfilePartiallyApplied: http.StatusInternalServerError,
}

// statusFor maps the outermost error code to an HTTP status.
func statusFor(err error) int {
	if status, ok := codeStatus[errors.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) jsonError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if code := errors.CodeOf(err); code != "" {
		body["code"] = code
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, body)
}

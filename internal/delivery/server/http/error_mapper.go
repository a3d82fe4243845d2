package http

import (
	"errors"
	"net/http"

	"github.com/desduvauchelle/tamias-sub001/internal/app/daemon"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/channels"

	"github.com/gin-gonic/gin"
)

// errValidation marks request problems detected by the handlers.
var errValidation = errors.New("invalid request")

// mapDomainError translates an engine or channel error into a status code
// and a user-facing message. Unrecognized errors map to 500.
func mapDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, errValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, daemon.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, channels.ErrUnknownChannel):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, daemon.ErrShuttingDown):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeError(c *gin.Context, err error) {
	status, message := mapDomainError(err)
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Error: message})
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}

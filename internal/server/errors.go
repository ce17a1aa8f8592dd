package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorResponsePayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classifyError maps an error kind to its HTTP status, stable code and default message.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, users.ErrValidation):
		return http.StatusBadRequest, "validation_failed", "invalid request"
	case errors.Is(err, users.ErrConflict):
		return http.StatusConflict, "conflict", "already exists"
	case errors.Is(err, users.ErrAuthentication):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case errors.Is(err, users.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// writeServiceError renders err. Internal causes are logged and never serialized.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	status, code, message := classifyError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, errorResponsePayload{Error: code, Message: message})
		return
	}
	var serviceErr *users.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Message() != "" {
		message = serviceErr.Message()
	}
	c.JSON(status, errorResponsePayload{Error: code, Message: message})
}

func writeBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponsePayload{Error: "invalid_request", Message: message})
}

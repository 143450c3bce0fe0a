package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string              `json:"error"`
	ExpertID string              `json:"expert_id,omitempty"`
	Session  *blackboard.Session `json:"session,omitempty"`
}

// statusFor maps engine and store failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidState),
		errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, blackboard.ErrConflict):
		return http.StatusConflict
	case blackboard.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrEmptyIntervention):
		return http.StatusBadRequest
	case orchestrator.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, blackboard.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[Server] %s %s failed: %v", c.Request().Method, c.Path(), err)
	}

	resp := ErrorResponse{Error: err.Error()}
	var verr *orchestrator.ValidationError
	if errors.As(err, &verr) {
		resp.ExpertID = verr.ExpertID
	}
	return c.JSON(status, resp)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

package common

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrInvalidID            = errors.New("invalid test id")
	ErrNotFound             = errors.New("test case not found")
	ErrInternal             = errors.New("internal server error")
	ErrStream               = errors.New("stream error")
	ErrInvalidConfiguration = errors.New("invalid test case configuration")
	ErrInvalidTransition    = errors.New("invalid state transition")
)

// HTTPStatus maps an error from the taxonomy above to the status code the
// HTTP layer answers with. Anything unrecognised is a 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrStream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message placed in an error response body. Internal
// faults never leak their cause.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidID):
		return "Invalid test ID"
	case errors.Is(err, ErrNotFound):
		return "Test case not found"
	case errors.Is(err, ErrInvalidConfiguration):
		return err.Error()
	case errors.Is(err, ErrInvalidTransition):
		return err.Error()
	case errors.Is(err, ErrStream):
		return "Stream error"
	default:
		return "Internal server error"
	}
}

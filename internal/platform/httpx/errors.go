package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for request handling.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrUpstream   = errors.New("upstream failure")
)

// RespondError maps sentinel errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrUpstream):
		Problem(w, http.StatusBadGateway, "Upstream Error", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

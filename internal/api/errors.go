package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/requant/internal/convert"
	"github.com/samcharles93/requant/internal/node"
	"github.com/samcharles93/requant/internal/profile"
	"github.com/samcharles93/requant/internal/registry"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a conversion error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, node.ErrInvalidParam),
		errors.Is(err, convert.ErrInvalidName),
		errors.Is(err, profile.ErrUnknownProfile),
		errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrUnknownFolder):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, registry.ErrModelNotFound):
		return http.StatusNotFound, "not_found_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func errorBody(err error) *ResponseError {
	_, typ := classify(err)
	return &ResponseError{Message: err.Error(), Type: typ}
}

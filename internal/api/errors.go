package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/kkodachi/Vitis-HLS-Convolution/internal/model"
	"github.com/kkodachi/Vitis-HLS-Convolution/pkg/fixedpoint"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	// ErrNoDataset is returned by evaluation endpoints when the server was
	// started without --data.
	ErrNoDataset = errors.New("no evaluation dataset configured")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string { return e.msg }

func (e invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps a service error onto an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, fixedpoint.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, ErrNoDataset):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, model.ErrShapeMismatch), errors.Is(err, model.ErrMissingParam):
		return http.StatusUnprocessableEntity, "model_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "server_error"
}

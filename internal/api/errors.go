package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/teamsync/chatserver/internal/store"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(statusCode int) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    strings.ToLower(http.StatusText(statusCode)),
	}
}

func NewBadRequestError(message string) *ApiError {
	err := newApiError(http.StatusBadRequest)
	if message != "" {
		err.Message = message
	}
	return err
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError(message string) *ApiError {
	err := newApiError(http.StatusConflict)
	if message != "" {
		err.Message = message
	}
	return err
}

func NewInternalServerError(err error) *ApiError {
	apiErr := newApiError(http.StatusInternalServerError)
	apiErr.Err = err
	return apiErr
}

// fromStoreError maps the store's sentinel errors onto the REST error
// surface.
func fromStoreError(err error) *ApiError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, store.ErrAlreadyMember):
		return NewConflictError("already a member of this room")
	case errors.Is(err, store.ErrRoomFull):
		return NewConflictError("room is full")
	case errors.Is(err, store.ErrNotSender):
		return NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}
}

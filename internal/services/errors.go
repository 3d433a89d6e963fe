package services

import (
	"errors"
	"net/http"
)

// ServiceError is an error whose message is safe to show to the caller.
// Fields carries per-field validation messages.
type ServiceError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e ServiceError) Error() string {
	return e.Message
}

func ErrNotFound(msg string) error {
	return ServiceError{Status: http.StatusNotFound, Message: msg}
}

func ErrBadRequest(msg string) error {
	return ServiceError{Status: http.StatusBadRequest, Message: msg}
}

func ErrForbidden(msg string) error {
	return ServiceError{Status: http.StatusForbidden, Message: msg}
}

func ErrUnauthorized(msg string) error {
	return ServiceError{Status: http.StatusUnauthorized, Message: msg}
}

func ErrConflict(msg string) error {
	return ServiceError{Status: http.StatusConflict, Message: msg}
}

func ErrTooManyRequests(msg string) error {
	return ServiceError{Status: http.StatusTooManyRequests, Message: msg}
}

// ErrFields reports validation failures keyed by form field.
func ErrFields(fields map[string]string) error {
	return ServiceError{Status: http.StatusBadRequest, Message: "Invalid submission.", Fields: fields}
}

func ErrField(field, msg string) error {
	return ErrFields(map[string]string{field: msg})
}

// AsServiceError unwraps err into a ServiceError when it is one.
func AsServiceError(err error) (ServiceError, bool) {
	var svcErr ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return ServiceError{}, false
}

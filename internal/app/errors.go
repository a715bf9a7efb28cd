package app

import (
	"errors"
	"fmt"
	"net/http"

	"teamulate/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeConflict       = "CONFLICT"
	CodeStorageFailure = "STORAGE_FAILURE"
)

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func errValidation(field, message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, map[string]any{"field": field})
}

func errStorage() *DomainError {
	return domainError(http.StatusServiceUnavailable, CodeStorageFailure, "Storage unavailable, retry the request", map[string]any{"retryable": true})
}

// notFoundAs turns the store's not-found sentinel into a domain error and
// leaves every other error untouched.
func notFoundAs(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return errNotFound(what)
	}
	return err
}

func isCode(err error, code string) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == code
}

package app

import (
	"errors"
	"fmt"
	"net/http"

	"scribe/api/internal/auth"
	"scribe/api/internal/document"
	"scribe/api/internal/export"
	"scribe/api/internal/history"
	"scribe/api/internal/state"
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

var errGenerating = domainError(http.StatusLocked, "GENERATING", "Editing is disabled while a completion is generating", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, state.ErrNotFound), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, state.ErrInvalidSettings):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, document.ErrInvalidDocument), errors.Is(err, document.ErrInvalidPosition):
		return http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), nil
	case errors.Is(err, document.ErrNotEditable):
		return errGenerating.Status, errGenerating.Code, errGenerating.Message, nil
	case errors.Is(err, export.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, "EMPTY_DOCUMENT", "Cowardly refusing to save an empty document", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

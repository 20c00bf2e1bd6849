package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrStorage         = errors.New("credential storage failure")
	ErrSessionExpired  = errors.New("session expired")
	ErrTooManyAttempts = errors.New("too many login attempts, try again later")
)

// APIError is a non-success response from the backend API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// ValidationError is raised before any request is issued
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s", name, e.Fields[name]))
	}
	return strings.Join(parts, ", ")
}

// UserMessage returns the text a screen should show for err
func UserMessage(err error) string {
	var apiErr *APIError
	var validationErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.As(err, &apiErr):
		return apiErr.Message
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrTooManyAttempts):
		return ErrTooManyAttempts.Error()
	default:
		return "Something went wrong. Please try again."
	}
}

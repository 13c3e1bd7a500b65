package supabase

import (
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the hosted backend, decoded from its
// {error, error_description | msg} payload convention.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Code is the service's machine-readable error code, when present.
	Code string
	// Message is the human-readable message from the error payload.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote error (HTTP %d)", e.Status)
}

// IsSessionAbsence reports whether the error is the service's routine
// "nothing to refresh / already signed out" condition. These arise from
// normal unauthenticated use and must not be reported as failures.
func IsSessionAbsence(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"no session",
		"session missing",
		"session not found",
		"refresh token not found",
		"invalid refresh token",
		"session_not_found",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

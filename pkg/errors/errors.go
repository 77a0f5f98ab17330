// Package errors defines custom error types for CyberSentinel DLP.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error cases.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("resource conflict")
	ErrInternalError      = errors.New("internal error")
	ErrPolicyInvalid      = errors.New("invalid policy")
	ErrPolicyNotFound     = errors.New("policy not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentVersionTooOld = errors.New("agent version below minimum")
	ErrBundleEmpty        = errors.New("no policies applicable to agent")
	ErrSyncFailed         = errors.New("policy sync failed")
	ErrContentUnavailable = errors.New("file content unavailable")
	ErrFileTooLarge       = errors.New("file exceeds inspection size limit")
	ErrQuarantineFailed   = errors.New("quarantine failed")
	ErrActionUnknown      = errors.New("unknown action type")
	ErrWatcherClosed      = errors.New("watcher closed")
)

// ServerError is a non-success HTTP response from the Sentinel server. Its
// presence in an error chain means the server answered and rejected the
// request, as opposed to a transport failure.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Body)
}

// Unwrap maps common statuses onto sentinel errors.
func (e *ServerError) Unwrap() error {
	switch e.Status {
	case 404:
		return ErrNotFound
	case 401:
		return ErrUnauthorized
	case 403:
		return ErrForbidden
	case 409:
		return ErrConflict
	case 426:
		return ErrAgentVersionTooOld
	default:
		return nil
	}
}

// ValidationError represents a validation error with field-specific details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SyncError represents a failed policy sync attempt against the server.
type SyncError struct {
	AgentID   string
	Operation string
	Cause     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("policy sync '%s' for agent '%s' failed: %v", e.Operation, e.AgentID, e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewSyncError creates a new sync error.
func NewSyncError(agentID, operation string, cause error) *SyncError {
	return &SyncError{AgentID: agentID, Operation: operation, Cause: cause}
}

// ActionError represents a single failed enforcement action.
type ActionError struct {
	Action  string
	EventID string
	Cause   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action '%s' for event '%s' failed: %v", e.Action, e.EventID, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// NewActionError creates a new action error.
func NewActionError(action, eventID string, cause error) *ActionError {
	return &ActionError{Action: action, EventID: eventID, Cause: cause}
}

// PolicyError represents an error related to policy evaluation.
type PolicyError struct {
	PolicyID string
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy '%s' rejected: %s", e.PolicyID, e.Reason)
}

// NewPolicyError creates a new policy error.
func NewPolicyError(policyID, reason string) *PolicyError {
	return &PolicyError{PolicyID: policyID, Reason: reason}
}

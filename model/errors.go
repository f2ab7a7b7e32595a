package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrValidationError   = "VALIDATION_ERROR"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrInternalError     = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrWorkflowNotFound = "WORKFLOW_NOT_FOUND"
	ErrMissingEvidence  = "MISSING_EVIDENCE"
)

// Configuration error codes, reported while compiling a workflow definition.
const (
	CodeMissingEntityType     = "MISSING_ENTITY_TYPE"
	CodeMissingStateID        = "MISSING_STATE_ID"
	CodeDuplicateState        = "DUPLICATE_STATE"
	CodeNoInitialState        = "NO_INITIAL_STATE"
	CodeMultipleInitialStates = "MULTIPLE_INITIAL_STATES"
	CodeDanglingReference     = "DANGLING_REFERENCE"
	CodeSelfLoop              = "SELF_LOOP"
	CodeDuplicateTransition   = "DUPLICATE_TRANSITION"
	CodeDuplicateWorkflow     = "DUPLICATE_WORKFLOW"
	CodeDuplicateRole         = "DUPLICATE_ROLE"
)

var (
	// ErrConfiguration matches every *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("workflow configuration error")

	// ErrUnknownWorkflow is returned when a caller names a workflow type that
	// was never registered. It signals a caller defect, not a business rule.
	ErrUnknownWorkflow = errors.New("unknown workflow type")
)

// ConfigurationError is a fatal, load-time problem with a workflow or role
// definition. A process must not serve traffic for a workflow that fails to
// compile.
type ConfigurationError struct {
	EntityType string `json:"entity_type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.EntityType == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("workflow %s: %s: %s", e.EntityType, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrConfiguration) hold for every ConfigurationError.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError returns a ConfigurationError with a formatted message.
func NewConfigurationError(entityType, code, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		EntityType: entityType,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
	}
}

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewWorkflowNotFoundError returns a WORKFLOW_NOT_FOUND error.
func NewWorkflowNotFoundError(entityType string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowNotFound,
		Message: fmt.Sprintf("no workflow registered for %q", entityType),
	}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInvalidTransitionError returns an INVALID_TRANSITION error.
func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewMissingEvidenceError returns a VALIDATION_ERROR naming the missing
// evidence field.
func NewMissingEvidenceError(field string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: fmt.Sprintf("This action requires %s", field),
		Details: []FieldError{{
			Field:   "evidence." + field,
			Code:    ErrMissingEvidence,
			Message: fmt.Sprintf("%s is required for this action", field),
		}},
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

package model

import "strings"

// ErrorKind classifies a rejected transition.
type ErrorKind string

// Rejection kinds produced by the transition executor.
const (
	KindNoSuchTransition ErrorKind = "NoSuchTransition"
	KindUnauthorized     ErrorKind = "Unauthorized"
	KindMissingEvidence  ErrorKind = "MissingEvidence"
)

// Evidence field names reported by MissingEvidence rejections.
const (
	EvidenceComments = "comments"
	EvidenceFile     = "file"
)

// Evidence is the supplementary data a transition may require.
type Evidence struct {
	Comments string `json:"comments,omitempty"`
	FileRef  string `json:"file_ref,omitempty"`
}

// HasComments reports whether non-blank comments were supplied.
func (e Evidence) HasComments() bool {
	return strings.TrimSpace(e.Comments) != ""
}

// HasFile reports whether a file reference was supplied.
func (e Evidence) HasFile() bool {
	return strings.TrimSpace(e.FileRef) != ""
}

// TransitionRequest is the input to a single transition decision.
type TransitionRequest struct {
	WorkflowType string   `json:"workflow_type"`
	CurrentState string   `json:"current_state"`
	Action       string   `json:"action"`
	ActorRole    string   `json:"actor_role"`
	Evidence     Evidence `json:"evidence"`
}

// TransitionResult is the only value the engine produces: either a next
// state or a typed rejection.
type TransitionResult struct {
	OK        bool      `json:"ok"`
	NextState string    `json:"next_state,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Accepted returns a successful result.
func Accepted(next string) TransitionResult {
	return TransitionResult{OK: true, NextState: next}
}

// Rejected returns a failed result of the given kind.
func Rejected(kind ErrorKind, detail string) TransitionResult {
	return TransitionResult{ErrorKind: kind, Detail: detail}
}

// Envelope converts a rejected result into the error envelope returned to
// clients. It returns nil for accepted results.
func (r TransitionResult) Envelope() *ErrorEnvelope {
	if r.OK {
		return nil
	}
	switch r.ErrorKind {
	case KindNoSuchTransition:
		return NewInvalidTransitionError(r.Detail)
	case KindUnauthorized:
		return NewForbiddenError("Your role is not permitted to perform this action")
	case KindMissingEvidence:
		return NewMissingEvidenceError(r.Detail)
	default:
		return NewInternalError()
	}
}

// ValidationReport is the output of a workflow integrity check.
type ValidationReport struct {
	EntityType string   `json:"entity_type"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
	Valid      bool     `json:"valid"`
}

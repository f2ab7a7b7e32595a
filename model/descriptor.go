package model

// WorkflowSummary is a registered workflow as listed by the API.
type WorkflowSummary struct {
	EntityType  string `json:"entity_type"`
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	States      int    `json:"states"`
	Transitions int    `json:"transitions"`
	Checksum    string `json:"checksum"`
}

// ActionDescriptor is an action an actor may attempt from a state, resolved
// for a specific role and sent to the frontend.
type ActionDescriptor struct {
	Action           string `json:"action"`
	Label            string `json:"label,omitempty"`
	To               string `json:"to"`
	RequiresComments bool   `json:"requires_comments"`
	RequiresFile     bool   `json:"requires_file"`
}

// DocumentDescriptor is a document together with what its viewer can do next.
type DocumentDescriptor struct {
	Document
	StateLabel string             `json:"state_label"`
	Category   string             `json:"category,omitempty"`
	Final      bool               `json:"final"`
	Actions    []ActionDescriptor `json:"actions"`
}

// TransitionOutcome is the response to an applied transition.
type TransitionOutcome struct {
	Document DocumentDescriptor `json:"document"`
	Record   TransitionRecord   `json:"record"`
}

// DataResponse is the standardized list response.
type DataResponse struct {
	Data DataPayload    `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// DataPayload contains the items and pagination for a data response.
type DataPayload struct {
	Items      any `json:"items"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
}

package model

import (
	"math"
	"time"
)

// Document is an approval document whose lifecycle a workflow governs. The
// engine never owns it; the document store does.
type Document struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	TenantID   string    `json:"tenant_id"`
	Title      string    `json:"title,omitempty"`
	State      string    `json:"state"`
	Version    int       `json:"version"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TransitionRecord is one entry in a document's audit trail.
type TransitionRecord struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Comments   string    `json:"comments,omitempty"`
	FileRef    string    `json:"file_ref,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DocumentFilters describes filters for listing documents.
type DocumentFilters struct {
	EntityType string `json:"entity_type,omitempty"`
	State      string `json:"state,omitempty"`
	CreatedBy  string `json:"created_by,omitempty"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// Offset returns the zero-based offset of the requested page. Pages past
// the end of the int range saturate at math.MaxInt.
func (f DocumentFilters) Offset() int {
	if f.Page <= 1 || f.PageSize <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.PageSize {
		return math.MaxInt
	}
	return (f.Page - 1) * f.PageSize
}

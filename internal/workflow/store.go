package workflow

import (
	"context"

	"github.com/pitabwire/docflow/model"
)

// DocumentStore persists documents and their transition history.
type DocumentStore interface {
	// Create persists a new document.
	Create(ctx context.Context, doc model.Document) error

	// Get retrieves a document by ID, scoped to a tenant. Returns NOT_FOUND
	// if the document doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, documentID string) (model.Document, error)

	// List returns a page of documents for a tenant and the total number of
	// documents matching filters.
	List(ctx context.Context, tenantID string, filters model.DocumentFilters) ([]model.Document, int, error)

	// Transition moves doc to record.ToState and appends record to the audit
	// trail in one step. doc.Version must match the stored version; otherwise
	// CONFLICT is returned and nothing is written. The updated document is
	// returned.
	Transition(ctx context.Context, doc model.Document, record model.TransitionRecord) (model.Document, error)

	// History retrieves the audit trail of a document, oldest first.
	History(ctx context.Context, tenantID, documentID string) ([]model.TransitionRecord, error)
}

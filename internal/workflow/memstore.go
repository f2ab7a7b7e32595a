package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/docflow/model"
)

// MemoryDocumentStore is an in-memory DocumentStore for tests and
// single-instance deployments.
type MemoryDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]model.Document           // key: document ID
	records   map[string][]model.TransitionRecord // key: document ID
	now       func() time.Time
}

// NewMemoryDocumentStore creates a new in-memory document store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		documents: make(map[string]model.Document),
		records:   make(map[string][]model.TransitionRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new document.
func (s *MemoryDocumentStore) Create(_ context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("document %q already exists", doc.ID),
		)
	}

	s.documents[doc.ID] = doc
	return nil
}

// Get retrieves a document by ID, scoped to tenant.
func (s *MemoryDocumentStore) Get(_ context.Context, tenantID, documentID string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[documentID]
	if !exists || doc.TenantID != tenantID {
		return model.Document{}, model.NewNotFoundError(
			fmt.Sprintf("document %q not found", documentID),
		)
	}
	return doc, nil
}

// List returns a page of a tenant's documents, newest first.
func (s *MemoryDocumentStore) List(_ context.Context, tenantID string, filters model.DocumentFilters) ([]model.Document, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.Document{}
	for _, doc := range s.documents {
		if doc.TenantID != tenantID {
			continue
		}
		if filters.EntityType != "" && doc.EntityType != filters.EntityType {
			continue
		}
		if filters.State != "" && doc.State != filters.State {
			continue
		}
		if filters.CreatedBy != "" && doc.CreatedBy != filters.CreatedBy {
			continue
		}
		result = append(result, doc)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	total := len(result)

	if off := filters.Offset(); off > 0 {
		if off >= len(result) {
			return []model.Document{}, total, nil
		}
		result = result[off:]
	}
	if filters.PageSize > 0 && filters.PageSize < len(result) {
		result = result[:filters.PageSize]
	}

	return result, total, nil
}

// Transition applies a state change with optimistic locking.
func (s *MemoryDocumentStore) Transition(_ context.Context, doc model.Document, record model.TransitionRecord) (model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.documents[doc.ID]
	if !exists || existing.TenantID != doc.TenantID {
		return model.Document{}, model.NewNotFoundError(
			fmt.Sprintf("document %q not found", doc.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != doc.Version {
		return model.Document{}, model.NewConflictError(
			fmt.Sprintf("document %q version conflict (expected %d, got %d)", doc.ID, doc.Version, existing.Version),
		)
	}

	existing.State = record.ToState
	existing.Version++
	existing.UpdatedAt = s.now()
	s.documents[doc.ID] = existing
	s.records[doc.ID] = append(s.records[doc.ID], record)
	return existing, nil
}

// History retrieves the audit trail, ordered by timestamp.
func (s *MemoryDocumentStore) History(_ context.Context, tenantID, documentID string) ([]model.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[documentID]
	if !exists || doc.TenantID != tenantID {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("document %q not found", documentID),
		)
	}

	records := s.records[documentID]
	result := make([]model.TransitionRecord, len(records))
	copy(result, records)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Len returns the total number of documents. For testing.
func (s *MemoryDocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

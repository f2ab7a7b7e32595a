package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/docflow/model"
)

// Schema creates the tables used by PgDocumentStore.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	version     INTEGER NOT NULL,
	created_by  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_tenant_idx ON documents (tenant_id, entity_type, state);

CREATE TABLE IF NOT EXISTS document_transitions (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	tenant_id   TEXT NOT NULL,
	from_state  TEXT NOT NULL,
	to_state    TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	actor_role  TEXT NOT NULL,
	comments    TEXT NOT NULL DEFAULT '',
	file_ref    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS document_transitions_doc_idx ON document_transitions (document_id, created_at);
`

const documentColumns = `id, entity_type, tenant_id, title, state, version, created_by, created_at, updated_at`

// PgDocumentStore is a PostgreSQL-backed DocumentStore using pgx/v5.
type PgDocumentStore struct {
	pool *pgxpool.Pool
}

// NewPgDocumentStore creates a new PostgreSQL document store.
func NewPgDocumentStore(pool *pgxpool.Pool) *PgDocumentStore {
	return &PgDocumentStore{pool: pool}
}

// Migrate creates the store's tables if they do not exist.
func (s *PgDocumentStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate document schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity. It satisfies observability.HealthChecker.
func (s *PgDocumentStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new document.
func (s *PgDocumentStore) Create(ctx context.Context, doc model.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.EntityType, doc.TenantID, doc.Title, doc.State, doc.Version,
		doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get retrieves a document by ID, scoped to tenant.
func (s *PgDocumentStore) Get(ctx context.Context, tenantID, documentID string) (model.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1 AND tenant_id = $2`,
		documentID, tenantID,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, model.NewNotFoundError(
			fmt.Sprintf("document %q not found", documentID),
		)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

// List returns a page of a tenant's documents, newest first.
func (s *PgDocumentStore) List(ctx context.Context, tenantID string, filters model.DocumentFilters) ([]model.Document, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	argIdx := 2

	add := func(column, value string) {
		if value == "" {
			return
		}
		where = append(where, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}
	add("entity_type", filters.EntityType)
	add("state", filters.State)
	add("created_by", filters.CreatedBy)

	clause := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM documents WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	query := "SELECT " + documentColumns + " FROM documents WHERE " + clause + " ORDER BY created_at DESC, id ASC"
	if filters.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.PageSize)
		argIdx++
	}
	if off := filters.Offset(); off > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, off)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// Transition updates the document state with optimistic locking and appends
// the audit record in the same transaction.
func (s *PgDocumentStore) Transition(ctx context.Context, doc model.Document, record model.TransitionRecord) (model.Document, error) {
	var updated model.Document
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE documents SET
				state = $1,
				version = $2,
				updated_at = $3
			WHERE id = $4 AND tenant_id = $5 AND version = $6
			RETURNING `+documentColumns,
			record.ToState, doc.Version+1, time.Now().UTC(),
			doc.ID, doc.TenantID, doc.Version,
		)
		var err error
		updated, err = scanDocument(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewConflictError(
				fmt.Sprintf("document %q version conflict (expected %d)", doc.ID, doc.Version),
			)
		}
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO document_transitions (
				id, document_id, tenant_id, from_state, to_state, action,
				actor_id, actor_role, comments, file_ref, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			record.ID, record.DocumentID, record.TenantID, record.FromState, record.ToState, record.Action,
			record.ActorID, record.ActorRole, record.Comments, record.FileRef, record.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert transition record: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Document{}, err
	}
	return updated, nil
}

// History retrieves the audit trail of a document.
func (s *PgDocumentStore) History(ctx context.Context, tenantID, documentID string) ([]model.TransitionRecord, error) {
	// Verify tenant access.
	if _, err := s.Get(ctx, tenantID, documentID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, tenant_id, from_state, to_state, action,
		       actor_id, actor_role, comments, file_ref, created_at
		FROM document_transitions
		WHERE document_id = $1 AND tenant_id = $2
		ORDER BY created_at ASC`,
		documentID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transition records: %w", err)
	}
	defer rows.Close()

	records := []model.TransitionRecord{}
	for rows.Next() {
		var rec model.TransitionRecord
		if err := rows.Scan(
			&rec.ID, &rec.DocumentID, &rec.TenantID, &rec.FromState, &rec.ToState, &rec.Action,
			&rec.ActorID, &rec.ActorRole, &rec.Comments, &rec.FileRef, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan transition record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDocument(row pgx.Row) (model.Document, error) {
	var doc model.Document
	err := row.Scan(
		&doc.ID, &doc.EntityType, &doc.TenantID, &doc.Title, &doc.State, &doc.Version,
		&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt,
	)
	return doc, err
}

// Package openapi loads the embedded description of the docflow HTTP API,
// indexes its operations by operationId, and validates request bodies against
// their schemas.
package openapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/docflow/model"
)

//go:embed api.yaml
var apiYAML []byte

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
}

// Index is an in-memory index of the API's operations keyed by operationId.
type Index struct {
	doc        *openapi3.T
	json       []byte
	operations map[string]IndexedOperation
}

// Load parses and validates the embedded API description.
func Load() (*Index, error) {
	return LoadData(apiYAML)
}

// LoadData parses and validates an API description and indexes all of its
// operations. Operations without an operationId are skipped.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi: encoding: %w", err)
	}

	idx := &Index{
		doc:        doc,
		json:       raw,
		operations: make(map[string]IndexedOperation),
	}
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := idx.operations[op.OperationID]; dup {
				return nil, fmt.Errorf("openapi: duplicate operationId %q", op.OperationID)
			}

			// Path-level parameters first, then operation-level.
			params := make([]*openapi3.Parameter, 0, len(pathItem.Parameters)+len(op.Parameters))
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
				Responses:    op.Responses,
			}
		}
	}
	return idx, nil
}

// Version returns the API description's info.version.
func (idx *Index) Version() string {
	if idx.doc.Info == nil {
		return ""
	}
	return idx.doc.Info.Version
}

// GetOperation returns the indexed operation with the given operationId.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns every indexed operationId, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest checks a decoded JSON request body against the operation's
// application/json schema. It returns nil when the body is valid or the
// operation declares no body schema.
func (idx *Index) ValidateRequest(operationID string, body map[string]any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{Code: "UNKNOWN_OPERATION", Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}
	schema := ct.Schema.Value

	var errs []model.FieldError
	for _, name := range schema.Required {
		if _, exists := body[name]; !exists {
			errs = append(errs, model.FieldError{
				Field:   name,
				Code:    "REQUIRED",
				Message: fmt.Sprintf("%s is required", name),
			})
		}
	}

	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop, ok := schema.Properties[name]
		if !ok || prop.Value == nil {
			continue
		}
		if err := prop.Value.VisitJSON(body[name]); err != nil {
			errs = append(errs, model.FieldError{
				Field:   fieldPath(name, err),
				Code:    "INVALID",
				Message: schemaReason(err),
			})
		}
	}
	return errs
}

// Handler serves the API description as JSON.
func (idx *Index) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(idx.json)
	})
}

func schemaReason(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return err.Error()
}

func fieldPath(name string, err error) string {
	var se *openapi3.SchemaError
	if !errors.As(err, &se) {
		return name
	}
	parts := append([]string{name}, se.JSONPointer()...)
	return strings.Join(parts, ".")
}

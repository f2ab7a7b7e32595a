package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

func handleCreateDocument(svc *workflow.Service, api *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var in workflow.CreateDocumentInput
		if !decodeBody(w, r, api, "createDocument", &in) {
			return
		}
		if in.EntityType == "" {
			WriteValidationError(w, r, []model.FieldError{requiredField("entity_type")})
			return
		}

		doc, err := svc.Create(r.Context(), rctx, in)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/documents/"+doc.ID)
		WriteJSON(w, http.StatusCreated, doc)
	}
}

func handleListDocuments(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		filters := model.DocumentFilters{
			EntityType: q.Get("entity_type"),
			State:      q.Get("state"),
			CreatedBy:  q.Get("created_by"),
			Page:       queryInt(r, "page", 1),
			PageSize:   queryInt(r, "page_size", defaultPageSize),
		}
		if filters.Page < 1 {
			filters.Page = 1
		}
		if filters.PageSize < 1 {
			filters.PageSize = defaultPageSize
		}
		if filters.PageSize > maxPageSize {
			filters.PageSize = maxPageSize
		}

		items, total, err := svc.List(r.Context(), rctx, filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, model.DataResponse{
			Data: model.DataPayload{
				Items:      items,
				TotalCount: total,
				Page:       filters.Page,
				PageSize:   filters.PageSize,
			},
		})
	}
}

func handleGetDocument(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		doc, err := svc.Get(r.Context(), rctx, chi.URLParam(r, "documentId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

// handleApplyTransition applies one action to a document. X-Idempotency-Key
// makes retries of the same request return the first outcome.
func handleApplyTransition(svc *workflow.Service, api *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var in workflow.TransitionInput
		if !decodeBody(w, r, api, "applyTransition", &in) {
			return
		}
		if in.Action == "" {
			WriteValidationError(w, r, []model.FieldError{requiredField("action")})
			return
		}
		in.IdempotencyKey = r.Header.Get("X-Idempotency-Key")

		out, err := svc.Transition(r.Context(), rctx, chi.URLParam(r, "documentId"), in)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, out)
	}
}

func handleDocumentHistory(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		records, err := svc.History(r.Context(), rctx, chi.URLParam(r, "documentId"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if records == nil {
			records = []model.TransitionRecord{}
		}
		WriteJSON(w, http.StatusOK, model.DataResponse{
			Data: model.DataPayload{
				Items:      records,
				TotalCount: len(records),
				Page:       1,
				PageSize:   len(records),
			},
		})
	}
}

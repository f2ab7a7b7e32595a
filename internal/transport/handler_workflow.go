package transport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/internal/integrity"
	"github.com/pitabwire/docflow/internal/openapi"
	"github.com/pitabwire/docflow/internal/workflow"
	"github.com/pitabwire/docflow/model"
)

// availableActionsResponse is the body of the available-actions endpoint.
type availableActionsResponse struct {
	EntityType string                   `json:"entity_type"`
	State      string                   `json:"state"`
	Role       string                   `json:"role"`
	Actions    []model.ActionDescriptor `json:"actions"`
}

// evaluateRequest is a dry-run transition; the workflow type comes from the
// path.
type evaluateRequest struct {
	CurrentState string         `json:"current_state"`
	Action       string         `json:"action"`
	ActorRole    string         `json:"actor_role"`
	Evidence     model.Evidence `json:"evidence"`
}

func lookupWorkflow(w http.ResponseWriter, r *http.Request, registry *definition.Registry) (*definition.Workflow, bool) {
	entityType := chi.URLParam(r, "entityType")
	wf, ok := registry.Get(entityType)
	if !ok {
		WriteError(w, r, model.NewWorkflowNotFoundError(entityType))
		return nil, false
	}
	return wf, true
}

func handleListWorkflows(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := registry.All()
		items := make([]model.WorkflowSummary, 0, len(all))
		for _, wf := range all {
			items = append(items, wf.Summary())
		}
		WriteJSON(w, http.StatusOK, model.DataResponse{
			Data: model.DataPayload{
				Items:      items,
				TotalCount: len(items),
				Page:       1,
				PageSize:   len(items),
			},
			Meta: map[string]any{"checksum": registry.Checksum()},
		})
	}
}

func handleGetWorkflow(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := lookupWorkflow(w, r, registry)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, wf.Definition())
	}
}

func handleWorkflowIntegrity(registry *definition.Registry, checker *integrity.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := lookupWorkflow(w, r, registry)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, checker.Validate(wf.Definition()))
	}
}

// handleAvailableActions lists the actions one of the caller's roles may
// attempt from a state. ?role= picks the role under the same rules as a
// transition's actor_role.
func handleAvailableActions(executor *workflow.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		wf, ok := lookupWorkflow(w, r, executor.Registry())
		if !ok {
			return
		}
		state := chi.URLParam(r, "state")
		if !wf.Catalog().IsKnown(state) {
			WriteNotFound(w, r, fmt.Sprintf("state %q is not defined for %s", state, wf.EntityType()))
			return
		}
		role, err := rctx.ActingRole(r.URL.Query().Get("role"))
		if err != nil {
			WriteError(w, r, err)
			return
		}

		actions, err := executor.AvailableActions(wf.EntityType(), state, role)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, availableActionsResponse{
			EntityType: wf.EntityType(),
			State:      state,
			Role:       role,
			Actions:    actions,
		})
	}
}

// handleEvaluate runs the executor without touching any document. A rejected
// decision is still a 200: the result is the answer.
func handleEvaluate(svc *workflow.Service, api *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		entityType := chi.URLParam(r, "entityType")

		var body evaluateRequest
		if !decodeBody(w, r, api, "evaluateTransition", &body) {
			return
		}
		var missing []model.FieldError
		if body.CurrentState == "" {
			missing = append(missing, requiredField("current_state"))
		}
		if body.Action == "" {
			missing = append(missing, requiredField("action"))
		}
		if len(missing) > 0 {
			WriteValidationError(w, r, missing)
			return
		}
		role, err := rctx.ActingRole(body.ActorRole)
		if err != nil {
			WriteError(w, r, err)
			return
		}

		res, err := svc.Evaluate(r.Context(), model.TransitionRequest{
			WorkflowType: entityType,
			CurrentState: body.CurrentState,
			Action:       body.Action,
			ActorRole:    role,
			Evidence:     body.Evidence,
		})
		if errors.Is(err, model.ErrUnknownWorkflow) {
			WriteError(w, r, model.NewWorkflowNotFoundError(entityType))
			return
		}
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

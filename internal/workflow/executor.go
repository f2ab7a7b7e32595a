// Package workflow decides and applies document transitions. The Executor is
// the pure decision function; the Service persists its outcomes.
package workflow

import (
	"fmt"

	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/model"
)

// PermissionResolver answers whether a role holds a permission.
type PermissionResolver interface {
	HasPermission(roleID, permission string) bool
}

const unauthorizedDetail = "role is not permitted to perform this action"

// Executor evaluates transition requests against the registered workflows.
// It keeps no state between calls and is safe for concurrent use.
type Executor struct {
	registry *definition.Registry
	resolver PermissionResolver
}

// NewExecutor creates an Executor over registry and resolver.
func NewExecutor(registry *definition.Registry, resolver PermissionResolver) *Executor {
	return &Executor{registry: registry, resolver: resolver}
}

// Registry returns the registry the executor reads from.
func (e *Executor) Registry() *definition.Registry {
	return e.registry
}

// Execute decides req. Business rejections are reported in the result; the
// only error is model.ErrUnknownWorkflow for an unregistered workflow type.
func (e *Executor) Execute(req model.TransitionRequest) (model.TransitionResult, error) {
	wf, ok := e.registry.Get(req.WorkflowType)
	if !ok {
		return model.TransitionResult{}, fmt.Errorf("%w: %q", model.ErrUnknownWorkflow, req.WorkflowType)
	}

	// 1. Lookup.
	tr, ok := wf.Table().Lookup(req.CurrentState, req.Action)
	if !ok {
		return model.Rejected(model.KindNoSuchTransition,
			fmt.Sprintf("action %q is not available from state %q", req.Action, req.CurrentState)), nil
	}

	// 2. Authorization.
	if !e.authorized(tr, req.ActorRole) {
		return model.Rejected(model.KindUnauthorized, unauthorizedDetail), nil
	}

	// 3. Evidence, comments before file.
	if tr.RequiresComments && !req.Evidence.HasComments() {
		return model.Rejected(model.KindMissingEvidence, model.EvidenceComments), nil
	}
	if tr.RequiresFile && !req.Evidence.HasFile() {
		return model.Rejected(model.KindMissingEvidence, model.EvidenceFile), nil
	}

	return model.Accepted(tr.To), nil
}

// AvailableActions lists the actions role may attempt from state, in
// declaration order. Evidence requirements are reported, not checked.
func (e *Executor) AvailableActions(workflowType, state, role string) ([]model.ActionDescriptor, error) {
	wf, ok := e.registry.Get(workflowType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownWorkflow, workflowType)
	}

	actions := []model.ActionDescriptor{}
	for _, tr := range wf.Table().Outgoing(state) {
		if !e.authorized(tr, role) {
			continue
		}
		actions = append(actions, model.ActionDescriptor{
			Action:           tr.Action,
			Label:            tr.Label,
			To:               tr.To,
			RequiresComments: tr.RequiresComments,
			RequiresFile:     tr.RequiresFile,
		})
	}
	return actions, nil
}

func (e *Executor) authorized(tr model.Transition, role string) bool {
	if role == "" {
		return false
	}
	if tr.AllowsRole(role) {
		return true
	}
	return e.resolver != nil && e.resolver.HasPermission(role, model.Wildcard)
}

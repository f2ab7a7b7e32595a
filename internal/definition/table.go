package definition

import (
	"sort"

	"github.com/pitabwire/docflow/model"
)

type edgeKey struct {
	from   string
	action string
}

// TransitionTable indexes a workflow's transitions by (from state, action).
type TransitionTable struct {
	byKey    map[edgeKey]model.Transition
	outgoing map[string][]model.Transition
	all      []model.Transition
}

// NewTransitionTable indexes transitions against catalog. Every endpoint must
// be a declared state, no transition may loop onto its own state, and each
// (from, action) pair may appear once. Violations are *model.ConfigurationError.
func NewTransitionTable(catalog *StateCatalog, transitions []model.Transition) (*TransitionTable, error) {
	et := catalog.entityType
	t := &TransitionTable{
		byKey:    make(map[edgeKey]model.Transition, len(transitions)),
		outgoing: make(map[string][]model.Transition),
		all:      make([]model.Transition, 0, len(transitions)),
	}

	for i, tr := range transitions {
		if !catalog.IsKnown(tr.From) {
			return nil, model.NewConfigurationError(et, model.CodeDanglingReference,
				"transitions[%d] (%s) starts at undeclared state %q", i, tr.Action, tr.From)
		}
		if !catalog.IsKnown(tr.To) {
			return nil, model.NewConfigurationError(et, model.CodeDanglingReference,
				"transitions[%d] (%s) ends at undeclared state %q", i, tr.Action, tr.To)
		}
		if tr.From == tr.To {
			return nil, model.NewConfigurationError(et, model.CodeSelfLoop,
				"transitions[%d] (%s) loops on state %q", i, tr.Action, tr.From)
		}
		key := edgeKey{from: tr.From, action: tr.Action}
		if _, dup := t.byKey[key]; dup {
			return nil, model.NewConfigurationError(et, model.CodeDuplicateTransition,
				"action %q declared twice from state %q", tr.Action, tr.From)
		}

		tr = tr.Clone()
		t.byKey[key] = tr
		t.outgoing[tr.From] = append(t.outgoing[tr.From], tr)
		t.all = append(t.all, tr)
	}
	return t, nil
}

// Lookup returns the transition for action from state from.
func (t *TransitionTable) Lookup(from, action string) (model.Transition, bool) {
	tr, ok := t.byKey[edgeKey{from: from, action: action}]
	if !ok {
		return model.Transition{}, false
	}
	return tr.Clone(), true
}

// Outgoing returns the transitions leaving from, in declaration order.
func (t *TransitionTable) Outgoing(from string) []model.Transition {
	return cloneTransitions(t.outgoing[from])
}

// PossibleNextStates returns the distinct states reachable in one step from
// from, sorted.
func (t *TransitionTable) PossibleNextStates(from string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tr := range t.outgoing[from] {
		if !seen[tr.To] {
			seen[tr.To] = true
			out = append(out, tr.To)
		}
	}
	sort.Strings(out)
	return out
}

// PossibleActions returns the actions available from from, sorted.
func (t *TransitionTable) PossibleActions(from string) []string {
	out := make([]string, 0, len(t.outgoing[from]))
	for _, tr := range t.outgoing[from] {
		out = append(out, tr.Action)
	}
	sort.Strings(out)
	return out
}

// All returns every transition in declaration order.
func (t *TransitionTable) All() []model.Transition {
	return cloneTransitions(t.all)
}

func cloneTransitions(in []model.Transition) []model.Transition {
	if in == nil {
		return nil
	}
	out := make([]model.Transition, len(in))
	for i, tr := range in {
		out[i] = tr.Clone()
	}
	return out
}

// Len returns the number of transitions.
func (t *TransitionTable) Len() int {
	return len(t.all)
}

package integrity

import (
	"fmt"

	"github.com/pitabwire/docflow/model"
)

// Severity classifies a finding.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Finding is a single problem reported by a rule.
type Finding struct {
	Severity Severity
	Message  string
}

// Rule checks one property of a workflow graph.
type Rule interface {
	Name() string
	Check(g *graph) []Finding
}

// DefaultRules returns the rules run by NewChecker, in reporting order.
func DefaultRules() []Rule {
	return []Rule{
		stateIDRule{},
		singleInitialRule{},
		reachabilityRule{},
		deadEndRule{},
		escapeRule{},
		referenceRule{},
		selfLoopRule{},
		duplicateTransitionRule{},
		emptyRolesRule{},
		categoryRule{},
	}
}

func errorf(rule, format string, args ...any) Finding {
	return Finding{Severity: SeverityError, Message: rule + ": " + fmt.Sprintf(format, args...)}
}

func warnf(rule, format string, args ...any) Finding {
	return Finding{Severity: SeverityWarning, Message: rule + ": " + fmt.Sprintf(format, args...)}
}

type stateIDRule struct{}

func (stateIDRule) Name() string { return "state-id" }

func (r stateIDRule) Check(g *graph) []Finding {
	var out []Finding
	seen := make(map[string]bool)
	for i, s := range g.def.States {
		switch {
		case s.ID == "":
			out = append(out, errorf(r.Name(), "states[%d] has no id", i))
		case seen[s.ID]:
			out = append(out, errorf(r.Name(), "state %q declared more than once", s.ID))
		}
		seen[s.ID] = true
	}
	return out
}

type singleInitialRule struct{}

func (singleInitialRule) Name() string { return "single-initial" }

func (r singleInitialRule) Check(g *graph) []Finding {
	switch len(g.initials) {
	case 0:
		return []Finding{errorf(r.Name(), "no state is marked initial")}
	case 1:
		return nil
	default:
		return []Finding{errorf(r.Name(), "%d states are marked initial: %q", len(g.initials), g.initials)}
	}
}

type reachabilityRule struct{}

func (reachabilityRule) Name() string { return "unreachable" }

func (r reachabilityRule) Check(g *graph) []Finding {
	if len(g.initials) == 0 {
		return nil
	}
	var out []Finding
	for _, id := range g.order {
		if !g.reachable[id] {
			out = append(out, warnf(r.Name(), "state %q cannot be reached from the initial state", id))
		}
	}
	return out
}

type deadEndRule struct{}

func (deadEndRule) Name() string { return "dead-end" }

func (r deadEndRule) Check(g *graph) []Finding {
	var out []Finding
	for _, id := range g.order {
		if !g.states[id].Final && len(g.out[id]) == 0 {
			out = append(out, warnf(r.Name(), "non-final state %q has no outgoing transitions", id))
		}
	}
	return out
}

// escapeRule reports states from which no final state can be reached. States
// the initial state can reach are trapped documents and fail the check;
// states nothing reaches are reported as warnings, but only when there is a
// single initial state to measure reachability from.
type escapeRule struct{}

func (escapeRule) Name() string { return "no-escape" }

func (r escapeRule) Check(g *graph) []Finding {
	if len(g.finals) == 0 {
		return []Finding{errorf(r.Name(), "no state is marked final")}
	}
	var out []Finding
	for _, id := range g.order {
		if g.escapes[id] {
			continue
		}
		if len(g.initials) == 1 && !g.reachable[id] {
			out = append(out, warnf(r.Name(), "unreachable state %q has no path to a final state", id))
			continue
		}
		out = append(out, errorf(r.Name(), "state %q has no path to a final state", id))
	}
	return out
}

type referenceRule struct{}

func (referenceRule) Name() string { return "dangling-reference" }

func (r referenceRule) Check(g *graph) []Finding {
	var out []Finding
	for i, t := range g.def.Transitions {
		if _, ok := g.states[t.From]; !ok {
			out = append(out, errorf(r.Name(), "transitions[%d] (%s) starts at undeclared state %q", i, t.Action, t.From))
		}
		if _, ok := g.states[t.To]; !ok {
			out = append(out, errorf(r.Name(), "transitions[%d] (%s) ends at undeclared state %q", i, t.Action, t.To))
		}
	}
	return out
}

type selfLoopRule struct{}

func (selfLoopRule) Name() string { return "self-loop" }

func (r selfLoopRule) Check(g *graph) []Finding {
	var out []Finding
	for _, t := range g.def.Transitions {
		if t.From == t.To {
			out = append(out, errorf(r.Name(), "action %q loops on state %q", t.Action, t.From))
		}
	}
	return out
}

type duplicateTransitionRule struct{}

func (duplicateTransitionRule) Name() string { return "duplicate-transition" }

func (r duplicateTransitionRule) Check(g *graph) []Finding {
	var out []Finding
	seen := make(map[[2]string]bool)
	for _, t := range g.def.Transitions {
		key := [2]string{t.From, t.Action}
		if seen[key] {
			out = append(out, errorf(r.Name(), "action %q declared twice from state %q", t.Action, t.From))
		}
		seen[key] = true
	}
	return out
}

type emptyRolesRule struct{}

func (emptyRolesRule) Name() string { return "no-roles" }

func (r emptyRolesRule) Check(g *graph) []Finding {
	var out []Finding
	for _, t := range g.def.Transitions {
		if len(t.RequiredRoles) == 0 {
			out = append(out, warnf(r.Name(),
				"action %q from state %q lists no roles; only wildcard roles can fire it", t.Action, t.From))
		}
	}
	return out
}

type categoryRule struct{}

func (categoryRule) Name() string { return "category" }

func (r categoryRule) Check(g *graph) []Finding {
	var out []Finding
	for _, s := range g.def.States {
		if s.Category != "" && !model.ValidCategories[s.Category] {
			out = append(out, warnf(r.Name(), "state %q has unknown category %q", s.ID, s.Category))
		}
	}
	return out
}

// unknownRoleRule compares required roles with the shared role vocabulary.
type unknownRoleRule struct {
	vocab RoleVocabulary
}

func (unknownRoleRule) Name() string { return "unknown-role" }

func (r unknownRoleRule) Check(g *graph) []Finding {
	var out []Finding
	seen := make(map[string]bool)
	for _, t := range g.def.Transitions {
		for _, role := range t.RequiredRoles {
			if seen[role] || r.vocab.Known(role) {
				continue
			}
			seen[role] = true
			out = append(out, warnf(r.Name(), "role %q (action %q) is not a known role", role, t.Action))
		}
	}
	return out
}

// Package integrity checks workflow graphs for structural defects: missing or
// repeated initial states, unreachable and dead-end states, states that can
// never reach a final state, and broken transition references.
package integrity

import (
	"github.com/pitabwire/docflow/model"
)

// RoleVocabulary is the set of role ids defined by the role policy.
type RoleVocabulary interface {
	Known(roleID string) bool
}

// Checker validates workflow definitions. It holds no per-call state and is
// safe for concurrent use.
type Checker struct {
	rules []Rule
}

// NewChecker returns a Checker running DefaultRules. When vocab is non-nil,
// required roles missing from it are reported as warnings.
func NewChecker(vocab RoleVocabulary) *Checker {
	rules := DefaultRules()
	if vocab != nil {
		rules = append(rules, unknownRoleRule{vocab: vocab})
	}
	return &Checker{rules: rules}
}

// NewCheckerWithRules returns a Checker running exactly rules.
func NewCheckerWithRules(rules ...Rule) *Checker {
	return &Checker{rules: rules}
}

// Validate runs every rule against def. The definition is not modified and the
// report is the same on every call.
func (c *Checker) Validate(def model.WorkflowDefinition) model.ValidationReport {
	g := newGraph(def)
	report := model.ValidationReport{
		EntityType: def.EntityType,
		Errors:     []string{},
		Warnings:   []string{},
	}
	for _, rule := range c.rules {
		for _, f := range rule.Check(g) {
			if f.Severity == SeverityError {
				report.Errors = append(report.Errors, f.Message)
			} else {
				report.Warnings = append(report.Warnings, f.Message)
			}
		}
	}
	report.Valid = len(report.Errors) == 0
	return report
}

// graph is the adjacency view shared by the rules. Edges whose endpoints are
// not declared states are left out; referenceRule reports them.
type graph struct {
	def      model.WorkflowDefinition
	states   map[string]model.State
	order    []string
	initials []string
	finals   []string
	out      map[string][]string
	in       map[string][]string

	reachable map[string]bool
	escapes   map[string]bool
}

func newGraph(def model.WorkflowDefinition) *graph {
	g := &graph{
		def:    def,
		states: make(map[string]model.State, len(def.States)),
		out:    make(map[string][]string),
		in:     make(map[string][]string),
	}
	for _, s := range def.States {
		if s.ID == "" {
			continue
		}
		if _, dup := g.states[s.ID]; dup {
			continue
		}
		g.states[s.ID] = s
		g.order = append(g.order, s.ID)
		if s.Initial {
			g.initials = append(g.initials, s.ID)
		}
		if s.Final {
			g.finals = append(g.finals, s.ID)
		}
	}
	for _, t := range def.Transitions {
		_, fromOK := g.states[t.From]
		_, toOK := g.states[t.To]
		if !fromOK || !toOK {
			continue
		}
		g.out[t.From] = append(g.out[t.From], t.To)
		g.in[t.To] = append(g.in[t.To], t.From)
	}

	g.reachable = bfs(g.initials, g.out)
	g.escapes = bfs(g.finals, g.in)
	return g
}

// bfs returns every node reachable from roots along edges.
func bfs(roots []string, edges map[string][]string) map[string]bool {
	seen := make(map[string]bool, len(roots))
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range edges[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

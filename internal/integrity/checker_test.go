package integrity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/model"
)

type vocab map[string]bool

func (v vocab) Known(id string) bool { return v[id] }

func shopDrawing(t *testing.T) model.WorkflowDefinition {
	t.Helper()
	defs, err := definition.NewLoader().LoadBuiltin()
	require.NoError(t, err)
	for _, d := range defs {
		if d.EntityType == "shop_drawing" {
			return d
		}
	}
	t.Fatal("shop_drawing built-in not found")
	return model.WorkflowDefinition{}
}

func linear() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		EntityType: "linear",
		States: []model.State{
			{ID: "draft", Initial: true},
			{ID: "review"},
			{ID: "done", Final: true},
		},
		Transitions: []model.Transition{
			{From: "draft", To: "review", Action: "submit", RequiredRoles: []string{"author"}},
			{From: "review", To: "done", Action: "approve", RequiredRoles: []string{"reviewer"}},
		},
	}
}

func hasMessage(msgs []string, fragment string) bool {
	for _, m := range msgs {
		if strings.Contains(m, fragment) {
			return true
		}
	}
	return false
}

func TestValidate_clean(t *testing.T) {
	report := NewChecker(nil).Validate(linear())

	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, "linear", report.EntityType)
}

func TestValidate_builtins(t *testing.T) {
	defs, err := definition.NewLoader().LoadBuiltin()
	require.NoError(t, err)
	require.Len(t, defs, 4)

	checker := NewChecker(nil)
	for _, def := range defs {
		report := checker.Validate(def)
		assert.Truef(t, report.Valid, "%s: errors %v", def.EntityType, report.Errors)
		assert.Emptyf(t, report.Warnings, "%s: warnings %v", def.EntityType, report.Warnings)
	}
}

func TestValidate_shopDrawingCycleEscapes(t *testing.T) {
	def := shopDrawing(t)

	var back, forth bool
	for _, tr := range def.Transitions {
		if tr.From == "rejected" && tr.To == "pending_internal_review" {
			back = true
		}
		if tr.From == "pending_internal_review" && tr.To == "rejected" {
			forth = true
		}
	}
	require.True(t, back && forth, "shop_drawing must keep the rejected/review cycle")

	report := NewChecker(nil).Validate(def)
	assert.Empty(t, report.Errors)
	assert.True(t, report.Valid)
}

func TestValidate_initialState(t *testing.T) {
	none := linear()
	none.States[0].Initial = false
	report := NewChecker(nil).Validate(none)
	assert.False(t, report.Valid)
	assert.True(t, hasMessage(report.Errors, "single-initial: no state is marked initial"), report.Errors)

	two := linear()
	two.States[1].Initial = true
	report = NewChecker(nil).Validate(two)
	assert.False(t, report.Valid)
	assert.True(t, hasMessage(report.Errors, "2 states are marked initial"), report.Errors)
}

func TestValidate_unreachableDeadEndIsWarning(t *testing.T) {
	def := linear()
	def.States = append(def.States, model.State{ID: "staged"})

	report := NewChecker(nil).Validate(def)

	assert.True(t, report.Valid, "errors: %v", report.Errors)
	assert.Equal(t, []string{
		`unreachable: state "staged" cannot be reached from the initial state`,
		`dead-end: non-final state "staged" has no outgoing transitions`,
		`no-escape: unreachable state "staged" has no path to a final state`,
	}, report.Warnings)
}

func TestValidate_unreachableDeadEndWithoutSingleInitialIsError(t *testing.T) {
	def := linear()
	def.States[1].Initial = true
	def.States = append(def.States, model.State{ID: "staged"})

	report := NewChecker(nil).Validate(def)

	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, `no-escape: state "staged" has no path to a final state`)
	assert.NotContains(t, report.Warnings, `no-escape: unreachable state "staged" has no path to a final state`)
}

func TestValidate_reachableDeadEndIsError(t *testing.T) {
	def := linear()
	def.States = append(def.States, model.State{ID: "parked"})
	def.Transitions = append(def.Transitions,
		model.Transition{From: "review", To: "parked", Action: "park", RequiredRoles: []string{"reviewer"}})

	report := NewChecker(nil).Validate(def)

	assert.False(t, report.Valid)
	assert.Contains(t, report.Warnings, `dead-end: non-final state "parked" has no outgoing transitions`)
	assert.Equal(t, []string{`no-escape: state "parked" has no path to a final state`}, report.Errors)
}

func TestValidate_trappedCycle(t *testing.T) {
	def := linear()
	def.States = append(def.States, model.State{ID: "loop_a"}, model.State{ID: "loop_b"})
	def.Transitions = append(def.Transitions,
		model.Transition{From: "draft", To: "loop_a", Action: "detour", RequiredRoles: []string{"author"}},
		model.Transition{From: "loop_a", To: "loop_b", Action: "next", RequiredRoles: []string{"author"}},
		model.Transition{From: "loop_b", To: "loop_a", Action: "back", RequiredRoles: []string{"author"}},
	)

	report := NewChecker(nil).Validate(def)

	assert.False(t, report.Valid)
	assert.ElementsMatch(t, []string{
		`no-escape: state "loop_a" has no path to a final state`,
		`no-escape: state "loop_b" has no path to a final state`,
	}, report.Errors)
	assert.Empty(t, report.Warnings, "cycle states have outgoing edges and are reachable")
}

func TestValidate_noFinalState(t *testing.T) {
	def := linear()
	def.States[2].Final = false

	report := NewChecker(nil).Validate(def)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, "no-escape: no state is marked final")
}

func TestValidate_references(t *testing.T) {
	def := linear()
	def.Transitions = append(def.Transitions,
		model.Transition{From: "ghost", To: "done", Action: "haunt", RequiredRoles: []string{"author"}},
		model.Transition{From: "review", To: "void", Action: "vanish", RequiredRoles: []string{"author"}},
	)

	report := NewChecker(nil).Validate(def)
	assert.False(t, report.Valid)
	assert.True(t, hasMessage(report.Errors, `starts at undeclared state "ghost"`), report.Errors)
	assert.True(t, hasMessage(report.Errors, `ends at undeclared state "void"`), report.Errors)
}

func TestValidate_selfLoopAndDuplicate(t *testing.T) {
	def := linear()
	def.Transitions = append(def.Transitions,
		model.Transition{From: "review", To: "review", Action: "touch", RequiredRoles: []string{"reviewer"}},
		model.Transition{From: "draft", To: "done", Action: "submit", RequiredRoles: []string{"author"}},
	)

	report := NewChecker(nil).Validate(def)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, `self-loop: action "touch" loops on state "review"`)
	assert.Contains(t, report.Errors, `duplicate-transition: action "submit" declared twice from state "draft"`)
}

func TestValidate_duplicateState(t *testing.T) {
	def := linear()
	def.States = append(def.States, model.State{ID: "review"}, model.State{})

	report := NewChecker(nil).Validate(def)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, `state-id: state "review" declared more than once`)
	assert.Contains(t, report.Errors, "state-id: states[4] has no id")
}

func TestValidate_roleWarnings(t *testing.T) {
	def := linear()
	def.Transitions[0].RequiredRoles = nil
	def.Transitions[1].RequiredRoles = []string{"reviewer", "auditor"}

	report := NewChecker(vocab{"author": true, "reviewer": true}).Validate(def)

	assert.True(t, report.Valid)
	assert.Equal(t, []string{
		`no-roles: action "submit" from state "draft" lists no roles; only wildcard roles can fire it`,
		`unknown-role: role "auditor" (action "approve") is not a known role`,
	}, report.Warnings)
}

func TestValidate_category(t *testing.T) {
	def := linear()
	def.States[1].Category = "purple"

	report := NewChecker(nil).Validate(def)
	assert.True(t, report.Valid)
	assert.Equal(t, []string{`category: state "review" has unknown category "purple"`}, report.Warnings)
}

func TestValidate_idempotent(t *testing.T) {
	def := linear()
	def.States = append(def.States, model.State{ID: "staged"}, model.State{ID: "parked"})
	def.Transitions = append(def.Transitions,
		model.Transition{From: "review", To: "parked", Action: "park"},
		model.Transition{From: "draft", To: "nowhere", Action: "lose"},
	)
	before := def.Clone()
	checker := NewChecker(vocab{"author": true})

	first := checker.Validate(def)
	second := checker.Validate(def)

	assert.Equal(t, first, second)
	assert.Equal(t, before, def)
}

func TestNewCheckerWithRules(t *testing.T) {
	def := linear()
	def.States = append(def.States, model.State{ID: "staged"})

	report := NewCheckerWithRules(deadEndRule{}).Validate(def)
	assert.Equal(t, []string{`dead-end: non-final state "staged" has no outgoing transitions`}, report.Warnings)
	assert.True(t, report.Valid)
}

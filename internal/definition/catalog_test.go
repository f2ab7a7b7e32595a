package definition

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pitabwire/docflow/model"
)

func reviewStates() []model.State {
	return []model.State{
		{ID: "draft", Initial: true},
		{ID: "in_review"},
		{ID: "rejected"},
		{ID: "approved", Final: true},
		{ID: "withdrawn", Final: true},
	}
}

func reviewTransitions() []model.Transition {
	return []model.Transition{
		{From: "draft", To: "in_review", Action: "submit", RequiredRoles: []string{"author"}},
		{From: "draft", To: "withdrawn", Action: "withdraw", RequiredRoles: []string{"author"}},
		{From: "in_review", To: "approved", Action: "approve", RequiredRoles: []string{"reviewer"}},
		{From: "in_review", To: "rejected", Action: "reject", RequiredRoles: []string{"reviewer"}, RequiresComments: true},
		{From: "rejected", To: "in_review", Action: "resubmit", RequiredRoles: []string{"author"}, RequiresFile: true},
	}
}

func configCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected a configuration error, got nil")
	}
	if !errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("error %v does not match ErrConfiguration", err)
	}
	var ce *model.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not *model.ConfigurationError", err)
	}
	return ce.Code
}

func TestStateCatalog(t *testing.T) {
	c, err := NewStateCatalog("review", reviewStates())
	if err != nil {
		t.Fatalf("NewStateCatalog() error = %v", err)
	}

	if c.Initial() != "draft" {
		t.Errorf("Initial() = %q, want draft", c.Initial())
	}
	if !c.IsInitial("draft") || c.IsInitial("in_review") || c.IsInitial("") {
		t.Error("IsInitial() mismatch")
	}
	if !c.IsKnown("rejected") || c.IsKnown("archived") {
		t.Error("IsKnown() mismatch")
	}
	if !c.IsFinal("approved") || c.IsFinal("draft") || c.IsFinal("archived") {
		t.Error("IsFinal() mismatch")
	}
	if got, want := c.Finals(), []string{"approved", "withdrawn"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Finals() = %v, want %v", got, want)
	}
	if c.Len() != 5 {
		t.Errorf("Len() = %d, want 5", c.Len())
	}
	if _, ok := c.State("archived"); ok {
		t.Error("State(archived) should not be found")
	}
}

func TestStateCatalog_StatesIsCopy(t *testing.T) {
	c, _ := NewStateCatalog("review", reviewStates())
	states := c.States()
	states[0].ID = "mutated"

	if s, _ := c.State("draft"); s.ID != "draft" {
		t.Errorf("catalog mutated through States(): %q", s.ID)
	}
}

func TestStateCatalog_Errors(t *testing.T) {
	tests := []struct {
		name   string
		states []model.State
		code   string
	}{
		{"duplicate", []model.State{{ID: "a", Initial: true}, {ID: "a"}}, model.CodeDuplicateState},
		{"empty id", []model.State{{ID: "a", Initial: true}, {ID: ""}}, model.CodeMissingStateID},
		{"no initial", []model.State{{ID: "a"}, {ID: "b", Final: true}}, model.CodeNoInitialState},
		{"two initial", []model.State{{ID: "a", Initial: true}, {ID: "b", Initial: true}}, model.CodeMultipleInitialStates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStateCatalog("bad", tt.states)
			if code := configCode(t, err); code != tt.code {
				t.Errorf("Code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestTransitionTable_Lookup(t *testing.T) {
	c, _ := NewStateCatalog("review", reviewStates())
	tbl, err := NewTransitionTable(c, reviewTransitions())
	if err != nil {
		t.Fatalf("NewTransitionTable() error = %v", err)
	}

	tr, ok := tbl.Lookup("in_review", "reject")
	if !ok {
		t.Fatal("Lookup(in_review, reject) not found")
	}
	if tr.To != "rejected" || !tr.RequiresComments {
		t.Errorf("Lookup(in_review, reject) = %+v", tr)
	}

	if _, ok := tbl.Lookup("draft", "approve"); ok {
		t.Error("Lookup(draft, approve) should not be found")
	}
	if _, ok := tbl.Lookup("approved", "submit"); ok {
		t.Error("Lookup(approved, submit) should not be found")
	}
	if tbl.Len() != 5 {
		t.Errorf("Len() = %d, want 5", tbl.Len())
	}
}

func TestTransitionTable_Possible(t *testing.T) {
	c, _ := NewStateCatalog("review", reviewStates())
	tbl, _ := NewTransitionTable(c, reviewTransitions())

	if got, want := tbl.PossibleNextStates("draft"), []string{"in_review", "withdrawn"}; !reflect.DeepEqual(got, want) {
		t.Errorf("PossibleNextStates(draft) = %v, want %v", got, want)
	}
	if got, want := tbl.PossibleActions("in_review"), []string{"approve", "reject"}; !reflect.DeepEqual(got, want) {
		t.Errorf("PossibleActions(in_review) = %v, want %v", got, want)
	}
	if got := tbl.PossibleNextStates("approved"); len(got) != 0 {
		t.Errorf("PossibleNextStates(approved) = %v, want empty", got)
	}
	if got := tbl.Outgoing("draft"); len(got) != 2 || got[0].Action != "submit" {
		t.Errorf("Outgoing(draft) = %+v, want declaration order", got)
	}
}

func TestTransitionTable_Errors(t *testing.T) {
	c, _ := NewStateCatalog("review", reviewStates())

	tests := []struct {
		name string
		tr   []model.Transition
		code string
	}{
		{"dangling from", []model.Transition{{From: "ghost", To: "draft", Action: "x"}}, model.CodeDanglingReference},
		{"dangling to", []model.Transition{{From: "draft", To: "ghost", Action: "x"}}, model.CodeDanglingReference},
		{"self loop", []model.Transition{{From: "draft", To: "draft", Action: "touch"}}, model.CodeSelfLoop},
		{"duplicate pair", []model.Transition{
			{From: "draft", To: "in_review", Action: "submit"},
			{From: "draft", To: "withdrawn", Action: "submit"},
		}, model.CodeDuplicateTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransitionTable(c, tt.tr)
			if code := configCode(t, err); code != tt.code {
				t.Errorf("Code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestCompile(t *testing.T) {
	roles := []string{"author"}
	def := model.WorkflowDefinition{
		EntityType:  "review",
		States:      reviewStates(),
		Transitions: []model.Transition{{From: "draft", To: "approved", Action: "approve", RequiredRoles: roles}},
	}

	w, err := Compile(def)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	roles[0] = "mutated"

	tr, _ := w.Table().Lookup("draft", "approve")
	if tr.RequiredRoles[0] != "author" {
		t.Errorf("compiled workflow shares RequiredRoles with caller: %v", tr.RequiredRoles)
	}

	s := w.Summary()
	if s.EntityType != "review" || s.States != 5 || s.Transitions != 1 {
		t.Errorf("Summary() = %+v", s)
	}
}

func TestCompile_missingEntityType(t *testing.T) {
	_, err := Compile(model.WorkflowDefinition{States: reviewStates()})
	if code := configCode(t, err); code != model.CodeMissingEntityType {
		t.Errorf("Code = %q, want %q", code, model.CodeMissingEntityType)
	}
}

package definition

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pitabwire/docflow/model"
)

type vocab map[string]bool

func (v vocab) Known(id string) bool { return v[id] }

func testDefs() []model.WorkflowDefinition {
	return []model.WorkflowDefinition{
		{
			EntityType:  "review",
			Version:     "1.0.0",
			Checksum:    "abc123",
			States:      reviewStates(),
			Transitions: reviewTransitions(),
		},
		{
			EntityType: "notice",
			Version:    "1.0.0",
			Checksum:   "def456",
			States: []model.State{
				{ID: "open", Initial: true},
				{ID: "closed", Final: true},
			},
			Transitions: []model.Transition{
				{From: "open", To: "closed", Action: "close", RequiredRoles: []string{"reviewer"}},
			},
		},
	}
}

func TestRegistry_Get(t *testing.T) {
	r, err := NewRegistry(nil, testDefs())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	w, ok := r.Get("review")
	if !ok {
		t.Fatal("Get(review) not found")
	}
	if w.EntityType() != "review" {
		t.Errorf("EntityType() = %q, want review", w.EntityType())
	}

	if _, ok := r.Get("unknown"); ok {
		t.Error("Get(unknown) should not be found")
	}
}

func TestRegistry_EntityTypesSorted(t *testing.T) {
	r, _ := NewRegistry(nil, testDefs())

	types := r.EntityTypes()
	if len(types) != 2 || types[0] != "notice" || types[1] != "review" {
		t.Errorf("EntityTypes() = %v, want [notice review]", types)
	}
	all := r.All()
	if len(all) != 2 || all[0].EntityType() != "notice" {
		t.Errorf("All() not sorted by entity type")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	defs := append(testDefs(), testDefs()[0])
	_, err := NewRegistry(nil, defs)
	if err == nil {
		t.Fatal("NewRegistry() with duplicate entity type should return error")
	}
	var ce *model.ConfigurationError
	if !errors.As(err, &ce) || ce.Code != model.CodeDuplicateWorkflow {
		t.Errorf("error = %v, want DUPLICATE_WORKFLOW", err)
	}
}

func TestRegistry_CompileError(t *testing.T) {
	defs := testDefs()
	defs[1].Transitions = append(defs[1].Transitions, model.Transition{From: "open", To: "nowhere", Action: "lose"})

	_, err := NewRegistry(nil, defs)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestRegistry_Checksum(t *testing.T) {
	r1, _ := NewRegistry(nil, testDefs())
	if r1.Checksum() == "" {
		t.Fatal("Checksum should not be empty")
	}

	reversed := testDefs()
	reversed[0], reversed[1] = reversed[1], reversed[0]
	r2, _ := NewRegistry(nil, reversed)
	if r1.Checksum() != r2.Checksum() {
		t.Error("Checksum should not depend on registration order")
	}

	changed := testDefs()
	changed[0].Checksum = "zzz999"
	r3, _ := NewRegistry(nil, changed)
	if r1.Checksum() == r3.Checksum() {
		t.Error("Checksum should change when a definition changes")
	}
}

func TestRegistry_ConsistencyCheck_clean(t *testing.T) {
	r, _ := NewRegistry(vocab{"author": true, "reviewer": true}, testDefs())
	if w := r.ConsistencyCheck(); len(w) != 0 {
		t.Errorf("ConsistencyCheck() = %v, want none", w)
	}
}

func TestRegistry_ConsistencyCheck_warnings(t *testing.T) {
	defs := testDefs()
	defs[1].States[1].ID = "Closed"
	defs[1].Transitions[0].To = "Closed"
	defs[1].Transitions[0].Action = "close-now"
	defs[1].Transitions[0].RequiredRoles = []string{"Reviewer", "auditor"}

	r, err := NewRegistry(vocab{"author": true, "reviewer": true}, defs)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	warnings := r.ConsistencyCheck()
	wantFragments := []string{
		`state "Closed" is not lowercase_with_underscores`,
		`action "close-now" is not lowercase_with_underscores`,
		`role "auditor" is not in the role vocabulary`,
		`role "Reviewer" is not in the role vocabulary`,
		"role ids differ only by case: Reviewer, reviewer",
	}
	joined := strings.Join(warnings, "\n")
	for _, frag := range wantFragments {
		if !strings.Contains(joined, frag) {
			t.Errorf("ConsistencyCheck() missing %q in:\n%s", frag, joined)
		}
	}
	if len(warnings) != len(wantFragments) {
		t.Errorf("ConsistencyCheck() returned %d warnings, want %d", len(warnings), len(wantFragments))
	}
}

func TestRegistry_Builtins(t *testing.T) {
	defs, err := NewLoader().LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	r, err := NewRegistry(nil, defs)
	if err != nil {
		t.Fatalf("NewRegistry(builtins) error = %v", err)
	}

	for _, w := range r.All() {
		if w.Catalog().Initial() == "" {
			t.Errorf("%s: no initial state", w.EntityType())
		}
		if len(w.Catalog().Finals()) == 0 {
			t.Errorf("%s: no final state", w.EntityType())
		}
	}
	if w := r.ConsistencyCheck(); len(w) != 0 {
		t.Errorf("built-ins ConsistencyCheck() = %v, want none", w)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r, _ := NewRegistry(nil, testDefs())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w, ok := r.Get("review"); ok {
				w.Table().Lookup("draft", "submit")
			}
			r.All()
			r.Checksum()
		}()
	}
	wg.Wait()
}

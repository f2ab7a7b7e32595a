package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/pitabwire/docflow/internal/capability"
	"github.com/pitabwire/docflow/internal/definition"
	"github.com/pitabwire/docflow/model"
)

// --- Test helpers ---

func builtinRegistry(t *testing.T) *definition.Registry {
	t.Helper()
	defs, err := definition.NewLoader().LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	reg, err := definition.NewRegistry(nil, defs)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func defaultResolver(t *testing.T) *capability.Resolver {
	t.Helper()
	r, err := capability.DefaultResolver()
	if err != nil {
		t.Fatalf("DefaultResolver() error = %v", err)
	}
	return r
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(builtinRegistry(t), defaultResolver(t))
}

func submitForReview(role string, ev model.Evidence) model.TransitionRequest {
	return model.TransitionRequest{
		WorkflowType: "shop_drawing",
		CurrentState: "draft",
		Action:       "submit_for_review",
		ActorRole:    role,
		Evidence:     ev,
	}
}

func mustExecute(t *testing.T, e *Executor, req model.TransitionRequest) model.TransitionResult {
	t.Helper()
	res, err := e.Execute(req)
	if err != nil {
		t.Fatalf("Execute(%+v) error = %v", req, err)
	}
	return res
}

// --- Shop drawing submission ---

func TestExecute_ShopDrawingSubmission(t *testing.T) {
	e := newTestExecutor(t)

	res := mustExecute(t, e, submitForReview("client", model.Evidence{FileRef: "files/sd-001.pdf"}))
	if res.OK || res.ErrorKind != model.KindUnauthorized {
		t.Errorf("client: result = %+v, want Unauthorized", res)
	}

	res = mustExecute(t, e, submitForReview("architect", model.Evidence{}))
	if res.OK || res.ErrorKind != model.KindMissingEvidence || res.Detail != model.EvidenceFile {
		t.Errorf("architect without file: result = %+v, want MissingEvidence(file)", res)
	}

	res = mustExecute(t, e, submitForReview("architect", model.Evidence{FileRef: "files/sd-001.pdf"}))
	if !res.OK {
		t.Fatalf("architect with file: result = %+v, want OK", res)
	}
	if res.NextState != "pending_internal_review" {
		t.Errorf("NextState = %q, want pending_internal_review", res.NextState)
	}
	if res.ErrorKind != "" || res.Detail != "" {
		t.Errorf("accepted result carries rejection fields: %+v", res)
	}
}

func TestExecute_UnknownWorkflow(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.Execute(model.TransitionRequest{WorkflowType: "invoice", CurrentState: "draft", Action: "submit", ActorRole: "owner"})
	if !errors.Is(err, model.ErrUnknownWorkflow) {
		t.Errorf("err = %v, want ErrUnknownWorkflow", err)
	}
}

// --- Lookup ---

func TestExecute_AbsentPairIsNoSuchTransitionForEveryRole(t *testing.T) {
	e := newTestExecutor(t)
	evidences := []model.Evidence{
		{},
		{Comments: "looks good"},
		{FileRef: "files/a.pdf"},
		{Comments: "looks good", FileRef: "files/a.pdf"},
	}
	pairs := []struct{ state, action string }{
		{"draft", "approve"},
		{"approved", "submit_for_review"},
		{"cancelled", "cancel"},
		{"nonexistent_state", "submit_for_review"},
		{"draft", ""},
	}

	roles := []string{"", "stranger"}
	for _, r := range defaultResolver(t).Roles() {
		roles = append(roles, r.ID)
	}
	for _, p := range pairs {
		for _, role := range roles {
			for _, ev := range evidences {
				res := mustExecute(t, e, model.TransitionRequest{
					WorkflowType: "shop_drawing",
					CurrentState: p.state,
					Action:       p.action,
					ActorRole:    role,
					Evidence:     ev,
				})
				if res.OK || res.ErrorKind != model.KindNoSuchTransition {
					t.Errorf("(%s, %s) role %q: result = %+v, want NoSuchTransition", p.state, p.action, role, res)
				}
			}
		}
	}
}

// --- Authorization ---

func TestExecute_WildcardRolesBypassRequiredRoles(t *testing.T) {
	e := newTestExecutor(t)
	for _, role := range []string{"owner", "admin"} {
		res := mustExecute(t, e, submitForReview(role, model.Evidence{FileRef: "files/a.pdf"}))
		if !res.OK {
			t.Errorf("%s: result = %+v, want OK", role, res)
		}
	}
}

func TestExecute_NonListedRolesAreUnauthorized(t *testing.T) {
	e := newTestExecutor(t)
	for _, role := range []string{"client", "engineer", "site_supervisor", "viewer", "stranger", ""} {
		// Evidence is complete so only authorization can fail.
		res := mustExecute(t, e, submitForReview(role, model.Evidence{Comments: "c", FileRef: "files/a.pdf"}))
		if res.OK || res.ErrorKind != model.KindUnauthorized {
			t.Errorf("%q: result = %+v, want Unauthorized", role, res)
		}
	}
}

func TestExecute_NamespaceWildcardIsNotOverride(t *testing.T) {
	// general_manager holds shop_drawing:* but not "*".
	e := newTestExecutor(t)
	res := mustExecute(t, e, model.TransitionRequest{
		WorkflowType: "shop_drawing",
		CurrentState: "pending_client_review",
		Action:       "approve_with_comments",
		ActorRole:    "general_manager",
		Evidence:     model.Evidence{Comments: "fine"},
	})
	if res.ErrorKind != model.KindUnauthorized {
		t.Errorf("result = %+v, want Unauthorized", res)
	}
}

func TestExecute_AccessorCopiesCannotChangeDecisions(t *testing.T) {
	reg := builtinRegistry(t)
	resolver := defaultResolver(t)
	e := NewExecutor(reg, resolver)

	wf, ok := reg.Get("shop_drawing")
	if !ok {
		t.Fatal("shop_drawing not registered")
	}
	for _, tr := range [][]model.Transition{wf.Table().Outgoing("draft"), wf.Table().All()} {
		for i := range tr {
			tr[i].RequiredRoles[0] = "client"
			tr[i].RequiresFile = false
		}
	}
	if tr, ok := wf.Table().Lookup("draft", "submit_for_review"); ok {
		tr.RequiredRoles[0] = "client"
	}
	if role, ok := resolver.Role("viewer"); ok {
		role.Permissions[model.Wildcard] = true
	}
	for _, role := range resolver.Roles() {
		role.Permissions[model.Wildcard] = true
	}

	res := mustExecute(t, e, submitForReview("client", model.Evidence{FileRef: "files/a.pdf"}))
	if res.OK || res.ErrorKind != model.KindUnauthorized {
		t.Errorf("client: result = %+v, want Unauthorized", res)
	}
	res = mustExecute(t, e, submitForReview("viewer", model.Evidence{FileRef: "files/a.pdf"}))
	if res.OK || res.ErrorKind != model.KindUnauthorized {
		t.Errorf("viewer: result = %+v, want Unauthorized", res)
	}
	res = mustExecute(t, e, submitForReview("architect", model.Evidence{}))
	if res.ErrorKind != model.KindMissingEvidence {
		t.Errorf("architect without file: result = %+v, want MissingEvidence", res)
	}
}

func TestExecute_UnauthorizedDetailDoesNotListRoles(t *testing.T) {
	e := newTestExecutor(t)
	res := mustExecute(t, e, submitForReview("client", model.Evidence{}))
	for _, role := range []string{"architect", "project_manager", "general_manager"} {
		if strings.Contains(res.Detail, role) {
			t.Errorf("Detail %q leaks required role %q", res.Detail, role)
		}
	}
}

func TestExecute_AuthorizationBeforeEvidence(t *testing.T) {
	e := newTestExecutor(t)
	res := mustExecute(t, e, submitForReview("client", model.Evidence{}))
	if res.ErrorKind != model.KindUnauthorized {
		t.Errorf("result = %+v, want Unauthorized to win over MissingEvidence", res)
	}
}

// --- Evidence ---

func TestExecute_RequiresCommentsRegardlessOfRoleOrFile(t *testing.T) {
	e := newTestExecutor(t)
	for _, role := range []string{"project_manager", "general_manager", "owner"} {
		for _, ev := range []model.Evidence{{}, {FileRef: "files/a.pdf"}, {Comments: "   "}} {
			res := mustExecute(t, e, model.TransitionRequest{
				WorkflowType: "shop_drawing",
				CurrentState: "pending_internal_review",
				Action:       "reject_internal",
				ActorRole:    role,
				Evidence:     ev,
			})
			if res.ErrorKind != model.KindMissingEvidence || res.Detail != model.EvidenceComments {
				t.Errorf("%s %+v: result = %+v, want MissingEvidence(comments)", role, ev, res)
			}
		}
	}
}

func TestExecute_CommentsCheckedBeforeFile(t *testing.T) {
	reg, err := definition.NewRegistry(nil, []model.WorkflowDefinition{{
		EntityType: "contract",
		States:     []model.State{{ID: "draft", Initial: true}, {ID: "signed", Final: true}},
		Transitions: []model.Transition{{
			From: "draft", To: "signed", Action: "sign",
			RequiredRoles:    []string{"signatory"},
			RequiresComments: true,
			RequiresFile:     true,
		}},
	}})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	e := NewExecutor(reg, nil)

	req := model.TransitionRequest{WorkflowType: "contract", CurrentState: "draft", Action: "sign", ActorRole: "signatory"}
	if res := mustExecute(t, e, req); res.Detail != model.EvidenceComments {
		t.Errorf("no evidence: Detail = %q, want comments", res.Detail)
	}

	req.Evidence.Comments = "signed in person"
	if res := mustExecute(t, e, req); res.Detail != model.EvidenceFile {
		t.Errorf("comments only: Detail = %q, want file", res.Detail)
	}

	req.Evidence.FileRef = "files/contract.pdf"
	if res := mustExecute(t, e, req); !res.OK || res.NextState != "signed" {
		t.Errorf("full evidence: result = %+v, want signed", res)
	}
}

func TestExecute_NilResolverHasNoOverride(t *testing.T) {
	e := NewExecutor(builtinRegistry(t), nil)
	res := mustExecute(t, e, submitForReview("owner", model.Evidence{FileRef: "files/a.pdf"}))
	if res.ErrorKind != model.KindUnauthorized {
		t.Errorf("result = %+v, want Unauthorized", res)
	}
}

// --- Cycle ---

func TestExecute_RejectResubmitCycle(t *testing.T) {
	e := newTestExecutor(t)
	steps := []struct {
		state, action, role string
		ev                  model.Evidence
		want                string
	}{
		{"draft", "submit_for_review", "architect", model.Evidence{FileRef: "f1"}, "pending_internal_review"},
		{"pending_internal_review", "reject_internal", "project_manager", model.Evidence{Comments: "fix dims"}, "rejected"},
		{"rejected", "resubmit", "architect", model.Evidence{FileRef: "f2"}, "pending_internal_review"},
		{"pending_internal_review", "approve_internal", "project_manager", model.Evidence{}, "pending_client_review"},
		{"pending_client_review", "approve", "client", model.Evidence{}, "approved"},
	}
	for _, s := range steps {
		res := mustExecute(t, e, model.TransitionRequest{
			WorkflowType: "shop_drawing", CurrentState: s.state, Action: s.action, ActorRole: s.role, Evidence: s.ev,
		})
		if !res.OK || res.NextState != s.want {
			t.Fatalf("%s/%s: result = %+v, want %s", s.state, s.action, res, s.want)
		}
	}
}

// --- AvailableActions ---

func TestAvailableActions(t *testing.T) {
	e := newTestExecutor(t)

	tests := []struct {
		role  string
		state string
		want  []string
	}{
		{"architect", "draft", []string{"submit_for_review"}},
		{"project_manager", "draft", []string{"submit_for_review", "cancel"}},
		{"owner", "pending_client_review", []string{"approve", "approve_with_comments", "request_revision"}},
		{"client", "pending_client_review", []string{"approve", "approve_with_comments", "request_revision"}},
		{"viewer", "draft", nil},
		{"architect", "approved", nil},
	}
	for _, tt := range tests {
		got, err := e.AvailableActions("shop_drawing", tt.state, tt.role)
		if err != nil {
			t.Fatalf("AvailableActions() error = %v", err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s@%s: got %d actions %+v, want %v", tt.role, tt.state, len(got), got, tt.want)
			continue
		}
		for i, a := range got {
			if a.Action != tt.want[i] {
				t.Errorf("%s@%s: actions[%d] = %q, want %q", tt.role, tt.state, i, a.Action, tt.want[i])
			}
		}
	}

	got, _ := e.AvailableActions("shop_drawing", "draft", "architect")
	if !got[0].RequiresFile || got[0].To != "pending_internal_review" {
		t.Errorf("submit_for_review descriptor = %+v", got[0])
	}

	if _, err := e.AvailableActions("invoice", "draft", "owner"); !errors.Is(err, model.ErrUnknownWorkflow) {
		t.Errorf("unknown workflow err = %v, want ErrUnknownWorkflow", err)
	}
}

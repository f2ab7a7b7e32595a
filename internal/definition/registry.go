package definition

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pitabwire/docflow/model"
)

// RoleVocabulary is the shared set of role ids workflows may reference.
type RoleVocabulary interface {
	Known(roleID string) bool
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Builder collects compiled workflows before they are frozen into a Registry.
// A Builder is not safe for concurrent use.
type Builder struct {
	vocab     RoleVocabulary
	workflows map[string]*Workflow
	order     []string
}

// NewBuilder creates a Builder. vocab may be nil, in which case the
// consistency check skips the role vocabulary comparison.
func NewBuilder(vocab RoleVocabulary) *Builder {
	return &Builder{
		vocab:     vocab,
		workflows: make(map[string]*Workflow),
	}
}

// Register compiles def and adds it. A second definition for the same entity
// type is rejected.
func (b *Builder) Register(def model.WorkflowDefinition) error {
	w, err := Compile(def)
	if err != nil {
		return err
	}
	if prev, dup := b.workflows[w.EntityType()]; dup {
		return model.NewConfigurationError(w.EntityType(), model.CodeDuplicateWorkflow,
			"declared by both %q and %q", prev.def.SourceFile, def.SourceFile)
	}
	b.workflows[w.EntityType()] = w
	b.order = append(b.order, w.EntityType())
	return nil
}

// Build freezes the collected workflows. The Builder must not be used after.
func (b *Builder) Build() *Registry {
	types := append([]string(nil), b.order...)
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, et := range types {
		parts = append(parts, et+"="+b.workflows[et].Checksum())
	}

	return &Registry{
		vocab:       b.vocab,
		workflows:   b.workflows,
		entityTypes: types,
		checksum:    fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, ":")))),
	}
}

// Registry is the immutable set of workflows keyed by entity type. It is
// built once at startup and read concurrently without locking.
type Registry struct {
	vocab       RoleVocabulary
	workflows   map[string]*Workflow
	entityTypes []string
	checksum    string
}

// NewRegistry compiles and registers every definition in one step.
func NewRegistry(vocab RoleVocabulary, defs []model.WorkflowDefinition) (*Registry, error) {
	b := NewBuilder(vocab)
	for _, def := range defs {
		if err := b.Register(def); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Get returns the workflow for entityType.
func (r *Registry) Get(entityType string) (*Workflow, bool) {
	w, ok := r.workflows[entityType]
	return w, ok
}

// EntityTypes returns the registered entity types, sorted.
func (r *Registry) EntityTypes() []string {
	return append([]string(nil), r.entityTypes...)
}

// All returns every workflow sorted by entity type.
func (r *Registry) All() []*Workflow {
	out := make([]*Workflow, 0, len(r.entityTypes))
	for _, et := range r.entityTypes {
		out = append(out, r.workflows[et])
	}
	return out
}

// Len returns the number of registered workflows.
func (r *Registry) Len() int {
	return len(r.entityTypes)
}

// Checksum returns the combined checksum of all registered definitions.
func (r *Registry) Checksum() string {
	return r.checksum
}

// ConsistencyCheck reports cross-workflow problems: roles missing from the
// shared vocabulary, role ids that differ only by case, and state or action
// ids that are not lowercase_with_underscores. The result is sorted and never
// fatal.
func (r *Registry) ConsistencyCheck() []string {
	var warnings []string
	seen := make(map[string]bool)
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if !seen[msg] {
			seen[msg] = true
			warnings = append(warnings, msg)
		}
	}

	// lower-cased role id -> spellings in use
	spellings := make(map[string]map[string]bool)

	for _, w := range r.All() {
		et := w.EntityType()
		for _, s := range w.Catalog().States() {
			if !identifierPattern.MatchString(s.ID) {
				warn("workflow %s: state %q is not lowercase_with_underscores", et, s.ID)
			}
		}
		for _, t := range w.Table().All() {
			if !identifierPattern.MatchString(t.Action) {
				warn("workflow %s: action %q is not lowercase_with_underscores", et, t.Action)
			}
			for _, role := range t.RequiredRoles {
				if r.vocab != nil && !r.vocab.Known(role) {
					warn("workflow %s: role %q is not in the role vocabulary", et, role)
				}
				key := strings.ToLower(role)
				if spellings[key] == nil {
					spellings[key] = make(map[string]bool)
				}
				spellings[key][role] = true
			}
		}
	}

	for _, forms := range spellings {
		if len(forms) < 2 {
			continue
		}
		ids := make([]string, 0, len(forms))
		for id := range forms {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		warn("role ids differ only by case: %s", strings.Join(ids, ", "))
	}

	sort.Strings(warnings)
	return warnings
}

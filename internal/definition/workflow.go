package definition

import (
	"github.com/pitabwire/docflow/model"
)

// Workflow is a compiled, immutable workflow: its definition plus the state
// catalog and transition table built from it.
type Workflow struct {
	def     model.WorkflowDefinition
	catalog *StateCatalog
	table   *TransitionTable
}

// Compile builds the catalog and transition table for def. Every error it
// returns is a *model.ConfigurationError.
func Compile(def model.WorkflowDefinition) (*Workflow, error) {
	if def.EntityType == "" {
		return nil, model.NewConfigurationError("", model.CodeMissingEntityType,
			"workflow definition has no entity_type (source %q)", def.SourceFile)
	}
	def = def.Clone()

	catalog, err := NewStateCatalog(def.EntityType, def.States)
	if err != nil {
		return nil, err
	}
	table, err := NewTransitionTable(catalog, def.Transitions)
	if err != nil {
		return nil, err
	}
	return &Workflow{def: def, catalog: catalog, table: table}, nil
}

// EntityType returns the document type the workflow governs.
func (w *Workflow) EntityType() string { return w.def.EntityType }

// Catalog returns the workflow's state catalog.
func (w *Workflow) Catalog() *StateCatalog { return w.catalog }

// Table returns the workflow's transition table.
func (w *Workflow) Table() *TransitionTable { return w.table }

// Definition returns a copy of the source definition.
func (w *Workflow) Definition() model.WorkflowDefinition { return w.def.Clone() }

// Checksum returns the checksum of the source file, if loaded from one.
func (w *Workflow) Checksum() string { return w.def.Checksum }

// Summary describes the workflow for listings.
func (w *Workflow) Summary() model.WorkflowSummary {
	return model.WorkflowSummary{
		EntityType:  w.def.EntityType,
		Name:        w.def.Name,
		Version:     w.def.Version,
		States:      w.catalog.Len(),
		Transitions: w.table.Len(),
		Checksum:    w.def.Checksum,
	}
}

package definition

import "github.com/pitabwire/docflow/model"

// StateCatalog holds the declared states of one workflow.
type StateCatalog struct {
	entityType string
	states     []model.State
	index      map[string]int
	initial    string
}

// NewStateCatalog indexes states. It fails with a *model.ConfigurationError
// when a state id is empty or duplicated, or when the workflow declares zero
// or several initial states.
func NewStateCatalog(entityType string, states []model.State) (*StateCatalog, error) {
	c := &StateCatalog{
		entityType: entityType,
		states:     append([]model.State(nil), states...),
		index:      make(map[string]int, len(states)),
	}

	var initials []string
	for i, s := range c.states {
		if s.ID == "" {
			return nil, model.NewConfigurationError(entityType, model.CodeMissingStateID,
				"states[%d] has no id", i)
		}
		if _, dup := c.index[s.ID]; dup {
			return nil, model.NewConfigurationError(entityType, model.CodeDuplicateState,
				"state %q declared more than once", s.ID)
		}
		c.index[s.ID] = i
		if s.Initial {
			initials = append(initials, s.ID)
		}
	}

	switch len(initials) {
	case 0:
		return nil, model.NewConfigurationError(entityType, model.CodeNoInitialState,
			"no state is marked initial")
	case 1:
		c.initial = initials[0]
	default:
		return nil, model.NewConfigurationError(entityType, model.CodeMultipleInitialStates,
			"states %q are all marked initial", initials)
	}
	return c, nil
}

// IsKnown reports whether id is a declared state.
func (c *StateCatalog) IsKnown(id string) bool {
	_, ok := c.index[id]
	return ok
}

// IsFinal reports whether id is a declared final state.
func (c *StateCatalog) IsFinal(id string) bool {
	s, ok := c.State(id)
	return ok && s.Final
}

// IsInitial reports whether id is the initial state.
func (c *StateCatalog) IsInitial(id string) bool {
	return id != "" && id == c.initial
}

// Initial returns the id of the initial state.
func (c *StateCatalog) Initial() string {
	return c.initial
}

// State returns the state with the given id.
func (c *StateCatalog) State(id string) (model.State, bool) {
	i, ok := c.index[id]
	if !ok {
		return model.State{}, false
	}
	return c.states[i], true
}

// States returns the states in declaration order.
func (c *StateCatalog) States() []model.State {
	return append([]model.State(nil), c.states...)
}

// Finals returns the ids of the final states in declaration order.
func (c *StateCatalog) Finals() []string {
	var ids []string
	for _, s := range c.states {
		if s.Final {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Len returns the number of declared states.
func (c *StateCatalog) Len() int {
	return len(c.states)
}

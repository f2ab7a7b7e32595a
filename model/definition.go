package model

// State categories are the UI-tone tags a state may carry.
const (
	CategoryNeutral = "neutral"
	CategoryInfo    = "info"
	CategoryWarning = "warning"
	CategorySuccess = "success"
	CategoryDanger  = "danger"
)

// ValidCategories lists every accepted state category.
var ValidCategories = map[string]bool{
	CategoryNeutral: true,
	CategoryInfo:    true,
	CategoryWarning: true,
	CategorySuccess: true,
	CategoryDanger:  true,
}

// WorkflowDefinition is the root structure of a workflow file. Each file
// declares the states and transitions governing one document type.
type WorkflowDefinition struct {
	EntityType  string       `yaml:"entity_type" json:"entity_type"`
	Name        string       `yaml:"name"        json:"name,omitempty"`
	Version     string       `yaml:"version"     json:"version,omitempty"`
	States      []State      `yaml:"states"      json:"states"`
	Transitions []Transition `yaml:"transitions" json:"transitions"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// State is a named lifecycle stage an entity may occupy.
type State struct {
	ID          string `yaml:"id"          json:"id"`
	Label       string `yaml:"label"       json:"label"`
	Description string `yaml:"description" json:"description,omitempty"`
	Category    string `yaml:"category"    json:"category,omitempty"`
	Icon        string `yaml:"icon"        json:"icon,omitempty"`
	Initial     bool   `yaml:"initial"     json:"initial,omitempty"`
	Final       bool   `yaml:"final"       json:"final,omitempty"`
}

// Transition is a directed, role-gated edge between two states.
type Transition struct {
	From             string   `yaml:"from"              json:"from"`
	To               string   `yaml:"to"                json:"to"`
	Action           string   `yaml:"action"            json:"action"`
	Label            string   `yaml:"label"             json:"label,omitempty"`
	RequiredRoles    []string `yaml:"required_roles"    json:"required_roles"`
	RequiresComments bool     `yaml:"requires_comments" json:"requires_comments,omitempty"`
	RequiresFile     bool     `yaml:"requires_file"     json:"requires_file,omitempty"`
}

// AllowsRole reports whether role is listed in the transition's required roles.
func (t Transition) AllowsRole(role string) bool {
	for _, r := range t.RequiredRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with t.
func (t Transition) Clone() Transition {
	t.RequiredRoles = append([]string(nil), t.RequiredRoles...)
	return t
}

// Clone returns a deep copy so callers cannot mutate registered definitions.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	out := d
	out.States = append([]State(nil), d.States...)
	out.Transitions = make([]Transition, len(d.Transitions))
	for i, t := range d.Transitions {
		out.Transitions[i] = t.Clone()
	}
	return out
}

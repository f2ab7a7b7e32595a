package capability

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/docflow/model"
)

//go:embed policy.yaml
var defaultPolicy []byte

type policyFile struct {
	Roles map[string]policyRole `yaml:"roles"`
}

type policyRole struct {
	Label       string   `yaml:"label"`
	Level       int      `yaml:"level"`
	Permissions []string `yaml:"permissions"`
}

// LoadPolicyFile reads a YAML role policy from path and builds a Resolver.
func LoadPolicyFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capability: reading policy file %s: %w", path, err)
	}
	r, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("capability: policy file %s: %w", path, err)
	}
	return r, nil
}

// DefaultResolver builds a Resolver from the embedded default role policy.
func DefaultResolver() (*Resolver, error) {
	r, err := ParsePolicy(defaultPolicy)
	if err != nil {
		return nil, fmt.Errorf("capability: default policy: %w", err)
	}
	return r, nil
}

// ParsePolicy parses a YAML role policy of the form
//
//	roles:
//	  owner:
//	    level: 100
//	    permissions: ["*"]
func ParsePolicy(data []byte) (*Resolver, error) {
	var p policyFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if len(p.Roles) == 0 {
		return nil, fmt.Errorf("policy declares no roles")
	}

	ids := make([]string, 0, len(p.Roles))
	for id := range p.Roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	roles := make([]model.Role, 0, len(ids))
	for _, id := range ids {
		pr := p.Roles[id]
		roles = append(roles, model.Role{
			ID:             id,
			Label:          pr.Label,
			HierarchyLevel: pr.Level,
			Permissions:    model.NewPermissionSet(pr.Permissions...),
		})
	}
	return NewResolver(roles)
}

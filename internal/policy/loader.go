package policy

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

type document struct {
	MaxIncludeDepth int                     `yaml:"maxIncludeDepth"`
	Entities        map[string]EntityPolicy `yaml:"entities"`
}

// Parse builds a Registry from a YAML document. A positive maxDepth
// overrides the depth declared in the document.
func Parse(data []byte, maxDepth int) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("policy: no entities declared")
	}
	depth := doc.MaxIncludeDepth
	if maxDepth > 0 {
		depth = maxDepth
	}
	return NewRegistry(doc.Entities, depth)
}

// Load reads the policy file at path, or the embedded default when path is empty.
func Load(path string, maxDepth int) (*Registry, error) {
	if path == "" {
		return Parse(defaultPolicy, maxDepth)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data, maxDepth)
}

// Default returns the embedded registry.
func Default() (*Registry, error) {
	return Parse(defaultPolicy, 0)
}

package dispatch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// builtinWorkflows maps API levels to the workflow files shipped with the
// patcher repository.
var builtinWorkflows = map[string]string{
	"33": "android13.yml",
	"34": "android14.yml",
	"35": "android15.yml",
	"36": "android16.yml",
}

// WorkflowTable resolves the workflow file for an API level. Lookup order is
// the configured per-level override, then the built-in table, then the
// default.
type WorkflowTable struct {
	Default   string
	Overrides map[string]string
}

// Resolve returns the workflow id for level.
func (t WorkflowTable) Resolve(level string) string {
	if wf := t.Overrides[level]; wf != "" {
		return wf
	}
	if wf, ok := builtinWorkflows[level]; ok {
		return wf
	}
	return t.Default
}

type templatesFile struct {
	Workflows map[string]string `yaml:"workflows"`
}

// LoadOverrides reads per-level workflow overrides from a YAML file:
//
//	workflows:
//	  "35": android15-beta.yml
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow templates: %w", err)
	}
	var f templatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow templates: %w", err)
	}
	return f.Workflows, nil
}

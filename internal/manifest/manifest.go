// Package manifest loads the run manifest: the list of reference sites the
// pipeline reproduces plus the strategy groups an A/B comparison sweeps.
//
// The YAML document is validated against an embedded JSON schema before it
// is trusted; a manifest that fails validation, has no cases, or matches no
// requested group is a fatal configuration error.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a manifest the run cannot proceed with.
var ErrInvalid = errors.New("manifest: invalid")

// Case is one reference site to reproduce and verify.
type Case struct {
	Key    string   `yaml:"key" json:"key"`
	URL    string   `yaml:"url" json:"url"`
	Prompt string   `yaml:"prompt" json:"prompt"`
	Pages  []string `yaml:"pages,omitempty" json:"pages,omitempty"`
}

// Group is one generation strategy for comparison runs: an environment
// overlay applied to the generator service plus free-form knobs recorded in
// the report.
type Group struct {
	ID    string            `yaml:"id" json:"id"`
	Env   map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Knobs map[string]string `yaml:"knobs,omitempty" json:"knobs,omitempty"`
}

// Manifest is the parsed, validated document.
type Manifest struct {
	Cases  []Case  `yaml:"cases" json:"cases"`
	Groups []Group `yaml:"groups,omitempty" json:"groups,omitempty"`
}

const schemaSrc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["cases"],
  "properties": {
    "cases": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["key", "url", "prompt"],
        "properties": {
          "key": {"type": "string", "minLength": 1, "pattern": "^[a-z0-9][a-z0-9_-]*$"},
          "url": {"type": "string", "minLength": 1},
          "prompt": {"type": "string", "minLength": 1},
          "pages": {"type": "array", "items": {"type": "string", "minLength": 1}}
        }
      }
    },
    "groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "knobs": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("manifest.schema.json", schemaSrc)

// Load reads, validates, and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalid, path, err)
	}
	return Parse(raw)
}

// Parse validates and decodes a raw manifest document.
func Parse(raw []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalid, err)
	}
	// Round-trip through JSON so the schema validator sees canonical JSON
	// types rather than yaml.v3's decode shapes.
	canon, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize: %v", ErrInvalid, err)
	}
	var jdoc any
	if err := json.Unmarshal(canon, &jdoc); err != nil {
		return nil, fmt.Errorf("%w: canonicalize: %v", ErrInvalid, err)
	}
	if err := schema.Validate(jdoc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) check() error {
	seen := make(map[string]bool, len(m.Cases))
	for _, c := range m.Cases {
		if seen[c.Key] {
			return fmt.Errorf("%w: duplicate case key %q", ErrInvalid, c.Key)
		}
		seen[c.Key] = true
	}
	groups := make(map[string]bool, len(m.Groups))
	for _, g := range m.Groups {
		if groups[g.ID] {
			return fmt.Errorf("%w: duplicate group id %q", ErrInvalid, g.ID)
		}
		groups[g.ID] = true
	}
	return nil
}

// SelectGroups resolves a comma-separated --groups selector against the
// manifest. An empty selector means all groups; a selector that matches
// nothing is fatal.
func (m *Manifest) SelectGroups(selector string) ([]Group, error) {
	if strings.TrimSpace(selector) == "" {
		return m.Groups, nil
	}
	wanted := make(map[string]bool)
	for _, id := range strings.Split(selector, ",") {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}
	var out []Group
	for _, g := range m.Groups {
		if wanted[g.ID] {
			out = append(out, g)
			delete(wanted, g.ID)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for id := range wanted {
			missing = append(missing, id)
		}
		return nil, fmt.Errorf("%w: unknown group(s) %s", ErrInvalid, strings.Join(missing, ", "))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: selector %q matched no groups", ErrInvalid, selector)
	}
	return out, nil
}

// LimitCases truncates the case list after the first n entries. n <= 0
// leaves the manifest untouched.
func (m *Manifest) LimitCases(n int) {
	if n > 0 && n < len(m.Cases) {
		m.Cases = m.Cases[:n]
	}
}

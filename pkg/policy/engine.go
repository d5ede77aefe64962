package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads a policy file. Files ending in .json or .jsonc are parsed as
// JSON with comments; anything else as YAML.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy config: %w", err)
	}
	format := "yaml"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		format = "json"
	}
	p, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Decode parses a policy document in the given format, "yaml" or "json".
// JSON input may carry comments and trailing commas.
func Decode(data []byte, format string) (*Policy, error) {
	var spec Spec
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("parse policy config: %w", err)
		}
	case "json", "jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &spec); err != nil {
			return nil, fmt.Errorf("parse policy config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown policy format %q", format)
	}
	for ns, rule := range spec.AllowedRemote {
		if rule.Kind == RuleUnknown {
			return nil, fmt.Errorf("namespace %s: missing rule", ns)
		}
	}
	return New(spec), nil
}

// ruleDoc is the mapping form of a rule: {except: [...]} or {only: [...]}.
type ruleDoc struct {
	Except []string `yaml:"except" json:"except"`
	Only   []string `yaml:"only" json:"only"`
}

func (d ruleDoc) rule() (Rule, error) {
	switch {
	case d.Except != nil && d.Only != nil:
		return Rule{}, errors.New("rule sets both except and only")
	case d.Except != nil:
		return AllExcept(d.Except...), nil
	case d.Only != nil:
		return Only(d.Only...), nil
	}
	return Rule{}, errors.New("rule needs except or only")
}

func ruleFromScalar(s string) (Rule, error) {
	if s == "all" || s == "*" {
		return All(), nil
	}
	return Rule{}, fmt.Errorf("unknown rule %q", s)
}

// UnmarshalYAML accepts "all", {except: [...]} and {only: [...]}.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		rule, err := ruleFromScalar(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*r = rule
		return nil
	case yaml.MappingNode:
		var doc ruleDoc
		if err := node.Decode(&doc); err != nil {
			return err
		}
		rule, err := doc.rule()
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*r = rule
		return nil
	}
	return fmt.Errorf("line %d: rule must be a string or a mapping", node.Line)
}

// MarshalYAML writes the form UnmarshalYAML reads.
func (r Rule) MarshalYAML() (any, error) {
	return r.document()
}

// UnmarshalJSON accepts "all", {"except": [...]} and {"only": [...]}.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		rule, err := ruleFromScalar(s)
		if err != nil {
			return err
		}
		*r = rule
		return nil
	}
	var doc ruleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("rule must be a string or an object: %w", err)
	}
	rule, err := doc.rule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// MarshalJSON writes the form UnmarshalJSON reads.
func (r Rule) MarshalJSON() ([]byte, error) {
	doc, err := r.document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (r Rule) document() (any, error) {
	names := r.Names
	if names == nil {
		names = []string{}
	}
	switch r.Kind {
	case RuleAll:
		return "all", nil
	case RuleAllExcept:
		return map[string][]string{"except": names}, nil
	case RuleOnly:
		return map[string][]string{"only": names}, nil
	}
	return nil, fmt.Errorf("cannot encode %s rule", r.Kind)
}

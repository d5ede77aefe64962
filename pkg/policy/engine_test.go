package policy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	data := `allowed_local: [add, puts]
allowed_remote:
  Math: all
  Text:
    except: [split]
  List:
    only: [map, sum]
range_max: 1000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !p.AllowsLocal("puts") || p.AllowsLocal("exit") {
		t.Fatalf("locals not loaded: %+v", p.Spec())
	}
	if rule, _ := p.RuleFor("Text"); rule.Kind != RuleAllExcept || rule.Names[0] != "split" {
		t.Fatalf("Text rule = %v", rule)
	}
	if rule, _ := p.RuleFor("List"); rule.Kind != RuleOnly || len(rule.Names) != 2 {
		t.Fatalf("List rule = %v", rule)
	}
	if p.RangeMax() != 1000 {
		t.Fatalf("range max = %d", p.RangeMax())
	}
}

func TestLoadJSONC(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.jsonc")
	data := `{
  // arithmetic only
  "allowed_local": ["add"],
  "allowed_remote": {
    "Math": "all",
    "Text": {"only": ["upcase"]},
  },
  "range_max": 10,
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rule, ok := p.RuleFor("Text"); !ok || rule.Kind != RuleOnly {
		t.Fatalf("Text rule = %v", rule)
	}
	if p.RangeMax() != 10 {
		t.Fatalf("range max = %d", p.RangeMax())
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		data   string
		want   string
	}{
		{"yaml", "allowed_remote:\n  Math: some\n", "unknown rule"},
		{"yaml", "allowed_remote:\n  Math:\n    except: [a]\n    only: [b]\n", "both except and only"},
		{"yaml", "allowed_remote:\n  Math: {}\n", "needs except or only"},
		{"json", `{"allowed_remote": {"Math": 3}}`, "string or an object"},
		{"toml", "", "unknown policy format"},
	}
	for _, tc := range cases {
		_, err := Decode([]byte(tc.data), tc.format)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Decode(%q) error = %v, want %q", tc.data, err, tc.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRuleEncodingRoundTrip(t *testing.T) {
	t.Parallel()

	spec := Spec{
		AllowedLocal:  []string{"add"},
		AllowedRemote: map[string]Rule{"Math": All(), "Text": AllExcept("split"), "List": Only("sum")},
		RangeMax:      5,
	}
	want := New(spec).Fingerprint()

	out, err := yaml.Marshal(spec)
	if err != nil {
		t.Fatalf("yaml marshal: %v", err)
	}
	fromYAML, err := Decode(out, "yaml")
	if err != nil {
		t.Fatalf("yaml decode: %v\n%s", err, out)
	}
	if fromYAML.Fingerprint() != want {
		t.Fatalf("yaml round trip changed policy:\n%s", out)
	}

	out, err = json.Marshal(spec)
	if err != nil {
		t.Fatalf("json marshal: %v", err)
	}
	fromJSON, err := Decode(out, "json")
	if err != nil {
		t.Fatalf("json decode: %v\n%s", err, out)
	}
	if fromJSON.Fingerprint() != want {
		t.Fatalf("json round trip changed policy: %s", out)
	}
}

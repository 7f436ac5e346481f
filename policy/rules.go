package policy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Field selects which attribute of a request a Matcher inspects.
type Field string

const (
	FieldName Field = "name" // tool title
	FieldID   Field = "id"   // tool call identifier
	FieldAny  Field = "any"  // name or id
	FieldKind Field = "kind" // ACP tool kind (read, edit, execute, fetch, ...)
)

// MatchKind selects how Pattern is compared against the field value.
type MatchKind string

const (
	MatchContains MatchKind = "contains"
	MatchGlob     MatchKind = "glob"
)

// Matcher tests one field of a request.
type Matcher struct {
	Field   Field     `yaml:"field"`
	Kind    MatchKind `yaml:"kind"`
	Pattern string    `yaml:"pattern"`
}

// Match reports whether req satisfies m.
func (m Matcher) Match(req Request) bool {
	switch m.Field {
	case FieldName:
		return m.matchValue(req.Title)
	case FieldID:
		return m.matchValue(req.ToolCallID)
	case FieldAny:
		return m.matchValue(req.Title) || m.matchValue(req.ToolCallID)
	case FieldKind:
		return req.Kind != "" && m.matchValue(req.Kind)
	default:
		return false
	}
}

func (m Matcher) matchValue(v string) bool {
	if v == "" {
		return false
	}
	switch m.Kind {
	case MatchContains, "":
		return strings.Contains(v, m.Pattern)
	case MatchGlob:
		ok, err := doublestar.Match(m.Pattern, v)
		return err == nil && ok
	default:
		return false
	}
}

func (m Matcher) validate() error {
	switch m.Field {
	case FieldName, FieldID, FieldAny, FieldKind:
	default:
		return fmt.Errorf("unknown field %q", m.Field)
	}
	if m.Pattern == "" {
		return errors.New("empty pattern")
	}
	switch m.Kind {
	case MatchContains, "":
	case MatchGlob:
		if !doublestar.ValidatePattern(m.Pattern) {
			return fmt.Errorf("invalid glob %q", m.Pattern)
		}
	default:
		return fmt.Errorf("unknown match kind %q", m.Kind)
	}
	return nil
}

// Rule binds a matcher to an action. Category is a label used in logs and
// decisions; it does not affect evaluation.
type Rule struct {
	Category string  `yaml:"category"`
	Action   Action  `yaml:"action"`
	Match    Matcher `yaml:"match"`
}

// Validate reports the first structural problem with r.
func (r Rule) Validate() error {
	if err := r.Action.validate(); err != nil {
		return err
	}
	return r.Match.validate()
}

func deny(category string, field Field, pattern string) Rule {
	return Rule{Category: category, Action: Deny, Match: Matcher{Field: field, Kind: MatchContains, Pattern: pattern}}
}

func approve(category, pattern string) Rule {
	return Rule{Category: category, Action: AutoApprove, Match: Matcher{Field: FieldName, Kind: MatchContains, Pattern: pattern}}
}

func escalate(category string, field Field, pattern string) Rule {
	return Rule{Category: category, Action: Escalate, Match: Matcher{Field: field, Kind: MatchContains, Pattern: pattern}}
}

// DefaultRules returns the read-only notes policy: shell and mutation tools
// are vetoed, search and read tools are approved inside the sandbox, and
// network fetches go to a human.
func DefaultRules() []Rule {
	return []Rule{
		deny("shell", FieldAny, "Bash"),
		deny("shell", FieldAny, "bash"),
		deny("write", FieldAny, "Write"),
		deny("write", FieldAny, "write"),
		deny("edit", FieldAny, "Edit"),
		deny("edit", FieldAny, "edit"),
		deny("notebook", FieldAny, "NotebookEdit"),
		deny("todo", FieldAny, "TodoWrite"),
		deny("task", FieldAny, "Task"),
		deny("execute", FieldKind, "execute"),
		deny("edit", FieldKind, "edit"),
		deny("delete", FieldKind, "delete"),
		deny("move", FieldKind, "move"),

		approve("read", "Read"),
		approve("search", "Grep"),
		approve("search", "Glob"),
		approve("web-search", "WebSearch"),
		approve("skill", "Skill"),

		escalate("fetch", FieldName, "WebFetch"),
		escalate("fetch", FieldKind, "fetch"),
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules decodes a YAML rule table of the form
//
//	rules:
//	  - category: shell
//	    action: deny
//	    match: {field: any, kind: contains, pattern: Bash}
//
// Every rule is validated; an empty table is an error since it would deny
// everything silently.
func LoadRules(r io.Reader) ([]Rule, error) {
	var f ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("policy: decode rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, errors.New("policy: rule table is empty")
	}
	for i, rule := range f.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("policy: rule %d (%s): %w", i, rule.Category, err)
		}
	}
	return f.Rules, nil
}

// LoadFile is LoadRules on the named file.
func LoadFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// Package policy classifies agent permission requests.
//
// Rules are evaluated in three tiers, Deny first, then AutoApprove, then
// Escalate, independent of their order in the table. Anything no rule
// matches is denied. Auto-approval additionally requires every touched path
// to resolve inside the sandbox root.
package policy

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/thoughttree/agentbridge/sandbox"
)

// Action is the outcome tier of a decision. The zero value is Deny.
type Action int

const (
	Deny Action = iota
	AutoApprove
	Escalate
)

var actionNames = map[Action]string{
	Deny:        "deny",
	AutoApprove: "auto_approve",
	Escalate:    "escalate",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a Action) validate() error {
	if _, ok := actionNames[a]; !ok {
		return fmt.Errorf("unknown action %d", int(a))
	}
	return nil
}

// ParseAction accepts the names produced by String, case-insensitively.
// "approve" is accepted as an alias of auto_approve.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deny":
		return Deny, nil
	case "auto_approve", "approve", "auto-approve":
		return AutoApprove, nil
	case "escalate", "ask":
		return Escalate, nil
	}
	return Deny, fmt.Errorf("unknown action %q", s)
}

func (a *Action) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Action) MarshalYAML() (any, error) { return a.String(), nil }

// Option is one reply the agent offers for a permission request.
type Option struct {
	ID    string
	Label string
	Kind  string // allow_once, allow_always, reject_once, reject_always
}

// Request is a capability the agent asks to exercise.
type Request struct {
	ToolCallID string
	Title      string
	Kind       string
	Paths      []string
	Options    []Option
}

// Decision is the classifier's verdict. OptionID is set for AutoApprove.
// Category names the rule that decided, empty for the default.
type Decision struct {
	Action   Action
	OptionID string
	Category string
	Reason   string
}

// Classifier evaluates requests against a fixed rule table. It is safe for
// concurrent use.
type Classifier struct {
	deny, approve, escalate []Rule
}

// New builds a Classifier. A nil or empty table yields a classifier that
// denies everything.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("policy: rule %d (%s): %w", i, r.Category, err)
		}
		switch r.Action {
		case Deny:
			c.deny = append(c.deny, r)
		case AutoApprove:
			c.approve = append(c.approve, r)
		case Escalate:
			c.escalate = append(c.escalate, r)
		}
	}
	return c, nil
}

// Default returns a Classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

func firstMatch(rules []Rule, req Request) (Rule, bool) {
	for _, r := range rules {
		if r.Match.Match(req) {
			return r, true
		}
	}
	return Rule{}, false
}

// Classify decides req for a session rooted at root.
func (c *Classifier) Classify(req Request, root string) Decision {
	if r, ok := firstMatch(c.deny, req); ok {
		return Decision{Action: Deny, Category: r.Category, Reason: "denied tool"}
	}

	if r, ok := firstMatch(c.approve, req); ok {
		if root == "" {
			return Decision{Action: Deny, Category: r.Category, Reason: "no sandbox root"}
		}
		for _, p := range req.Paths {
			if _, err := sandbox.Contains(root, p); err != nil {
				return Decision{Action: Deny, Category: r.Category, Reason: err.Error()}
			}
		}
		if len(req.Options) == 0 {
			return Decision{Action: Deny, Category: r.Category, Reason: "no options offered"}
		}
		return Decision{Action: AutoApprove, OptionID: req.Options[0].ID, Category: r.Category, Reason: "read-only tool"}
	}

	if r, ok := firstMatch(c.escalate, req); ok {
		if len(req.Options) == 0 {
			return Decision{Action: Deny, Category: r.Category, Reason: "no options offered"}
		}
		return Decision{Action: Escalate, Category: r.Category, Reason: "requires approval"}
	}

	return Decision{Action: Deny, Reason: "no matching rule"}
}

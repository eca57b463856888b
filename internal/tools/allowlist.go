package tools

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrToolNotAllowed indicates the execution policy rejected a tool call.
type ErrToolNotAllowed struct {
	Tool   string
	Reason string
}

func (e *ErrToolNotAllowed) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tool %q not allowed: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %q not allowed", e.Tool)
}

// Rule permits one tool, optionally gated by a boolean expression evaluated
// against the call parameters (available as `params`).
type Rule struct {
	Tool string `yaml:"tool" json:"tool"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`
}

type compiledRule struct {
	when *vm.Program // nil means unconditional
	src  string
}

// Allowlist is the tool execution policy. An empty rule set permits every
// registered tool; a non-empty one permits only the tools it names. Reload
// replaces the rule set atomically, so a config watcher can hot-swap policy
// under live sessions.
type Allowlist struct {
	mu    sync.RWMutex
	rules map[string]compiledRule
}

// NewAllowlist compiles a rule set into a policy.
func NewAllowlist(rules []Rule) (*Allowlist, error) {
	a := &Allowlist{}
	if err := a.Reload(rules); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload compiles and installs a new rule set. On compile error the previous
// rules stay in effect.
func (a *Allowlist) Reload(rules []Rule) error {
	compiled := make(map[string]compiledRule, len(rules))
	for _, r := range rules {
		if r.Tool == "" {
			return fmt.Errorf("allowlist: rule with empty tool name")
		}
		cr := compiledRule{src: r.When}
		if r.When != "" {
			prog, err := expr.Compile(r.When,
				expr.Env(map[string]interface{}{"params": map[string]interface{}{}}),
				expr.AsBool(),
			)
			if err != nil {
				return fmt.Errorf("allowlist: compile rule for %q: %w", r.Tool, err)
			}
			cr.when = prog
		}
		compiled[r.Tool] = cr
	}

	a.mu.Lock()
	a.rules = compiled
	a.mu.Unlock()
	return nil
}

// Check returns nil when the policy permits the call. A nil Allowlist
// permits everything.
func (a *Allowlist) Check(tool string, params map[string]interface{}) error {
	if a == nil {
		return nil
	}

	a.mu.RLock()
	rules := a.rules
	a.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	rule, ok := rules[tool]
	if !ok {
		return &ErrToolNotAllowed{Tool: tool, Reason: "not in allowlist"}
	}
	if rule.when == nil {
		return nil
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	out, err := expr.Run(rule.when, map[string]interface{}{"params": params})
	if err != nil {
		return &ErrToolNotAllowed{Tool: tool, Reason: fmt.Sprintf("condition %q: %v", rule.src, err)}
	}
	if allowed, _ := out.(bool); !allowed {
		return &ErrToolNotAllowed{Tool: tool, Reason: fmt.Sprintf("condition %q evaluated to false", rule.src)}
	}
	return nil
}

package changeset

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Rule requires Approvals distinct approvers for any change touching a node
// whose path matches Pattern. Paths look like "components/Component/<id>".
type Rule struct {
	Pattern   string `yaml:"pattern" json:"pattern"`
	Approvals int    `yaml:"approvals" json:"approvals"`
}

// Policy is a set of approval rules. A nil or empty policy requires nothing.
type Policy struct {
	rules []Rule
}

// NewPolicy validates every pattern.
func NewPolicy(rules ...Rule) (*Policy, error) {
	for _, r := range rules {
		if !doublestar.ValidatePattern(r.Pattern) {
			return nil, fmt.Errorf("invalid approval pattern %q", r.Pattern)
		}
		if r.Approvals < 0 {
			return nil, fmt.Errorf("approval rule %q: negative approval count", r.Pattern)
		}
	}
	return &Policy{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns a copy of the configured rules.
func (p *Policy) Rules() []Rule {
	if p == nil {
		return nil
	}
	return append([]Rule(nil), p.rules...)
}

// Required returns the largest approval count of any rule matching any path.
func (p *Policy) Required(paths []string) int {
	if p == nil {
		return 0
	}
	need := 0
	for _, r := range p.rules {
		if r.Approvals <= need {
			continue
		}
		for _, path := range paths {
			if doublestar.MatchUnvalidated(r.Pattern, path) {
				need = r.Approvals
				break
			}
		}
	}
	return need
}

// Check fails with ErrApprovalRequired when cs lacks approvals for paths.
func (p *Policy) Check(cs *ChangeSet, paths []string) error {
	need := p.Required(paths)
	if got := len(cs.Approvals); got < need {
		return fmt.Errorf("%w: %s has %d of %d", ErrApprovalRequired, cs.ID, got, need)
	}
	return nil
}

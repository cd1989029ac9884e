package rules

import (
	"slices"
	"time"
)

// Rule is a named, priority-ordered keyword predicate that routes a
// conversation to a department.
type Rule struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Keywords     []string  `json:"keywords"`
	DepartmentID string    `json:"department_id"`
	Priority     int       `json:"priority"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// clone returns a copy that shares no slices with r.
func (r Rule) clone() Rule {
	r.Keywords = slices.Clone(r.Keywords)
	return r
}

// RuleInput carries the fields of a rule being created.
// Active defaults to true when nil.
type RuleInput struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Keywords     []string `json:"keywords"`
	DepartmentID string   `json:"department_id"`
	Priority     int      `json:"priority"`
	Active       *bool    `json:"active,omitempty"`
}

// RulePatch is a partial update. Nil fields are left unchanged; a non-nil
// empty Keywords slice is a request to clear the keywords and fails validation.
type RulePatch struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	DepartmentID *string  `json:"department_id,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	Active       *bool    `json:"active,omitempty"`
}

// PriorityUpdate assigns a new priority to one rule as part of a reorder.
type PriorityUpdate struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// MatchResult is the outcome of evaluating text against a rule snapshot.
// A zero MatchResult means no rule matched.
type MatchResult struct {
	Matched         bool
	Rule            *Rule
	MatchedKeywords []string
}

// NoMatch is the explicit "no rule applies" result.
func NoMatch() MatchResult {
	return MatchResult{}
}

// DepartmentID returns the routing target, or "" when nothing matched.
func (m MatchResult) DepartmentID() string {
	if !m.Matched || m.Rule == nil {
		return ""
	}
	return m.Rule.DepartmentID
}

package main

import (
	"time"

	"github.com/liamcoop/routingrules/rules"
)

// API Request and Response Models

// CreateRuleRequest represents the request body for creating a rule
type CreateRuleRequest struct {
	Name         string   `json:"name" example:"Vendas"`
	Description  string   `json:"description" example:"Leads comerciais"`
	Keywords     []string `json:"keywords" example:"comprar,preço"`
	DepartmentID string   `json:"department_id" example:"sales"`
	Priority     int      `json:"priority" example:"10"`
	Active       *bool    `json:"active,omitempty" example:"true"`
} // @name CreateRuleRequest

func (r CreateRuleRequest) toInput() rules.RuleInput {
	return rules.RuleInput{
		Name:         r.Name,
		Description:  r.Description,
		Keywords:     r.Keywords,
		DepartmentID: r.DepartmentID,
		Priority:     r.Priority,
		Active:       r.Active,
	}
}

// UpdateRuleRequest represents a partial update. Omitted fields keep their
// current value.
type UpdateRuleRequest struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	DepartmentID *string  `json:"department_id,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	Active       *bool    `json:"active,omitempty"`
} // @name UpdateRuleRequest

func (r UpdateRuleRequest) toPatch() rules.RulePatch {
	return rules.RulePatch{
		Name:         r.Name,
		Description:  r.Description,
		Keywords:     r.Keywords,
		DepartmentID: r.DepartmentID,
		Priority:     r.Priority,
		Active:       r.Active,
	}
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	ID           string    `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Name         string    `json:"name" example:"Vendas"`
	Description  string    `json:"description" example:"Leads comerciais"`
	Keywords     []string  `json:"keywords" example:"comprar,preço"`
	DepartmentID string    `json:"department_id" example:"sales"`
	Priority     int       `json:"priority" example:"10"`
	Active       bool      `json:"active" example:"true"`
	CreatedAt    time.Time `json:"created_at" example:"2024-01-15T10:30:00Z"`
	UpdatedAt    time.Time `json:"updated_at" example:"2024-01-15T10:30:00Z"`
} // @name RuleResponse

func newRuleResponse(r rules.Rule) RuleResponse {
	keywords := r.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return RuleResponse{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Keywords:     keywords,
		DepartmentID: r.DepartmentID,
		Priority:     r.Priority,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
} // @name RulesListResponse

// EvaluateRequest represents the request body for evaluate and simulate
type EvaluateRequest struct {
	Text string `json:"text" example:"Quero comprar o curso"`
} // @name EvaluateRequest

// EvaluateResponse represents a routing decision
type EvaluateResponse struct {
	Matched         bool          `json:"matched" example:"true"`
	RuleID          string        `json:"rule_id,omitempty"`
	RuleName        string        `json:"rule_name,omitempty" example:"Vendas"`
	DepartmentID    string        `json:"department_id,omitempty" example:"sales"`
	MatchedKeywords []string      `json:"matched_keywords" example:"comprar"`
	Rule            *RuleResponse `json:"rule,omitempty"` // simulate only
	EvaluationTime  string        `json:"evaluation_time" example:"120µs"`
} // @name EvaluateResponse

func newEvaluateResponse(m rules.MatchResult, elapsed time.Duration, withRule bool) EvaluateResponse {
	resp := EvaluateResponse{
		Matched:         m.Matched,
		MatchedKeywords: m.MatchedKeywords,
		EvaluationTime:  elapsed.String(),
	}
	if resp.MatchedKeywords == nil {
		resp.MatchedKeywords = []string{}
	}
	if m.Matched && m.Rule != nil {
		resp.RuleID = m.Rule.ID
		resp.RuleName = m.Rule.Name
		resp.DepartmentID = m.DepartmentID()
		if withRule {
			rr := newRuleResponse(*m.Rule)
			resp.Rule = &rr
		}
	}
	return resp
}

// PriorityItem is one entry of a reorder request
type PriorityItem struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
} // @name PriorityItem

// ReorderRequest represents the request body for reordering rules
type ReorderRequest struct {
	Items []PriorityItem `json:"items"`
} // @name ReorderRequest

func (r ReorderRequest) toUpdates() []rules.PriorityUpdate {
	out := make([]rules.PriorityUpdate, len(r.Items))
	for i, it := range r.Items {
		out[i] = rules.PriorityUpdate{ID: it.ID, Priority: it.Priority}
	}
	return out
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string   `json:"error" example:"invalid keywords: at least one keyword is required"`
	Field   string   `json:"field,omitempty" example:"keywords"`
	Reason  string   `json:"reason,omitempty" example:"at least one keyword is required"`
	IDs     []string `json:"ids,omitempty"`
	Details string   `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
	Store  string `json:"store" example:"postgres"`
	Error  string `json:"error,omitempty"`
} // @name HealthResponse

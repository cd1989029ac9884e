// Package ingest routes inbound conversation messages received over NATS.
// Each request is evaluated against the current rule set and answered on
// the message's reply subject.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/liamcoop/routingrules/rules"
)

// Evaluator is the part of the rules engine the ingestion path needs.
type Evaluator interface {
	Evaluate(ctx context.Context, text string) (rules.MatchResult, error)
}

// Request is the inbound payload.
type Request struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// Reply is the routing decision sent back to the requester. Error is set
// only when evaluation failed; a message that matches nothing is not an error.
type Reply struct {
	ConversationID  string   `json:"conversation_id"`
	Matched         bool     `json:"matched"`
	RuleID          string   `json:"rule_id,omitempty"`
	RuleName        string   `json:"rule_name,omitempty"`
	DepartmentID    string   `json:"department_id,omitempty"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	Error           string   `json:"error,omitempty"`
	Code            string   `json:"code,omitempty"`
}

// Error codes carried in Reply.Code.
const (
	CodeBadRequest  = "bad_request"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// Handler turns a raw request into a raw reply. It holds no NATS state so it
// can be exercised directly.
type Handler struct {
	evaluator Evaluator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewHandler creates a handler. A zero timeout leaves evaluation bounded
// only by the caller's context.
func NewHandler(evaluator Evaluator, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		evaluator: evaluator,
		timeout:   timeout,
		logger:    logger.With("component", "ingest"),
	}
}

// Handle evaluates one request and returns the encoded reply.
func (h *Handler) Handle(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("rejecting malformed request", "error", err, "size", len(data))
		return encode(Reply{Error: "invalid request payload", Code: CodeBadRequest})
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.evaluator.Evaluate(ctx, req.Text)
	if err != nil {
		code := CodeInternal
		if errors.Is(err, rules.ErrStoreUnavailable) {
			code = CodeUnavailable
		}
		h.logger.Error("evaluation failed", "conversation_id", req.ConversationID, "error", err)
		return encode(Reply{ConversationID: req.ConversationID, Error: err.Error(), Code: code})
	}

	reply := Reply{
		ConversationID:  req.ConversationID,
		Matched:         result.Matched,
		MatchedKeywords: result.MatchedKeywords,
	}
	if result.Matched {
		reply.RuleID = result.Rule.ID
		reply.RuleName = result.Rule.Name
		reply.DepartmentID = result.DepartmentID()
	}
	h.logger.Debug("routed message",
		"conversation_id", req.ConversationID,
		"matched", reply.Matched,
		"department_id", reply.DepartmentID,
	)
	return encode(reply)
}

func encode(r Reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Reply has only string, bool and []string fields.
		panic(err)
	}
	return b
}

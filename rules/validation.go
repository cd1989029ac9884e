package rules

import (
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxNameLength         = 200
	MaxDescriptionLength  = 2000
	MaxKeywords           = 100
	MaxKeywordLength      = 100
	MaxDepartmentIDLength = 255

	// Priorities are stored as 32-bit integers.
	MinPriority = math.MinInt32
	MaxPriority = math.MaxInt32
)

// Normalize case-folds s the same way for stored keywords and inbound text.
// NFC composition first so "preço" typed with a combining cedilla still
// matches the precomposed form.
func Normalize(s string) string {
	// Casers carry state and are not safe for concurrent use.
	return cases.Fold().String(norm.NFC.String(s))
}

// NormalizeKeywords trims, case-folds and deduplicates keywords, keeping the
// first occurrence order. Blank entries are dropped.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = Normalize(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// prepare normalizes r in place and reports the first invalid field.
func prepare(r *Rule) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.DepartmentID = strings.TrimSpace(r.DepartmentID)
	r.Keywords = NormalizeKeywords(r.Keywords)
	return validateRule(r)
}

func validateRule(r *Rule) error {
	if r.Name == "" {
		return newValidationError("name", "must not be empty")
	}
	if n := utf8.RuneCountInString(r.Name); n > MaxNameLength {
		return newValidationError("name", "length %d exceeds maximum of %d characters", n, MaxNameLength)
	}
	if n := utf8.RuneCountInString(r.Description); n > MaxDescriptionLength {
		return newValidationError("description", "length %d exceeds maximum of %d characters", n, MaxDescriptionLength)
	}
	if r.DepartmentID == "" {
		return newValidationError("department_id", "must not be empty")
	}
	if n := utf8.RuneCountInString(r.DepartmentID); n > MaxDepartmentIDLength {
		return newValidationError("department_id", "length %d exceeds maximum of %d characters", n, MaxDepartmentIDLength)
	}
	if !validPriority(r.Priority) {
		return newValidationError("priority", "%d is outside the range %d to %d", r.Priority, MinPriority, MaxPriority)
	}
	if len(r.Keywords) == 0 {
		return newValidationError("keywords", "must contain at least one non-blank keyword")
	}
	if len(r.Keywords) > MaxKeywords {
		return newValidationError("keywords", "contains %d keywords, maximum allowed is %d", len(r.Keywords), MaxKeywords)
	}
	for _, kw := range r.Keywords {
		if n := utf8.RuneCountInString(kw); n > MaxKeywordLength {
			return newValidationError("keywords", "keyword %q length %d exceeds maximum of %d characters", kw, n, MaxKeywordLength)
		}
	}
	return nil
}

// validateReorder rejects batches that name the same rule twice.
func validateReorder(items []PriorityUpdate) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return newValidationError("items", "rule id must not be empty")
		}
		if _, dup := seen[item.ID]; dup {
			return newValidationError("items", "rule %s appears more than once", item.ID)
		}
		if !validPriority(item.Priority) {
			return newValidationError("items", "priority %d for rule %s is outside the range %d to %d", item.Priority, item.ID, MinPriority, MaxPriority)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

func validPriority(p int) bool {
	return p >= MinPriority && p <= MaxPriority
}

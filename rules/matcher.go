package rules

import "strings"

// Match returns the first active rule, in the order given, whose keywords
// occur in text. Callers supply rules ordered by priority descending, ties
// by creation time ascending (see Repository.List).
//
// Containment is plain substring search on normalized text, so a keyword
// also matches inside longer words ("ativo" matches "relativo").
func Match(rules []Rule, text string) MatchResult {
	normalized := Normalize(text)
	for i := range rules {
		if !rules[i].Active {
			continue
		}
		matched := matchKeywords(rules[i].Keywords, normalized)
		if len(matched) == 0 {
			continue
		}
		winner := rules[i].clone()
		return MatchResult{
			Matched:         true,
			Rule:            &winner,
			MatchedKeywords: matched,
		}
	}
	return NoMatch()
}

// matchKeywords returns the keywords found in normalized text, in rule order.
func matchKeywords(keywords []string, normalized string) []string {
	var matched []string
	for _, kw := range keywords {
		kw = Normalize(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(normalized, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

package agent

import (
	"strings"
)

// extractSQL pulls the statement out of model output using 3 strategies in order:
// 1. ```sql ... ``` code block (preferred)
// 2. ``` ... ``` generic code block containing SELECT/WITH
// 3. prose followed by SQL: everything from the first line opening with SELECT/WITH
//
// Otherwise the trimmed text is returned unchanged. Nothing after the start of
// the statement is dropped, so the validator sees any trailing statements.
func extractSQL(text string) string {
	text = strings.TrimSpace(text)

	// Strategy 1: ```sql / ```SQL block
	lower := strings.ToLower(text)
	if idx := strings.Index(lower, "```sql"); idx != -1 {
		body := text[idx+len("```sql"):]
		if end := strings.Index(body, "```"); end != -1 {
			if sql := strings.TrimSpace(body[:end]); sql != "" {
				return sql
			}
		}
	}

	// Strategy 2: any ``` block whose content starts with SELECT or WITH
	parts := strings.Split(text, "```")
	for i := 1; i < len(parts)-1; i += 2 {
		candidate := strings.TrimSpace(parts[i])
		// strip a language tag line (e.g. "postgresql\nSELECT")
		if nl := strings.Index(candidate, "\n"); nl != -1 && !startsWithQuery(candidate[:nl]) {
			candidate = strings.TrimSpace(candidate[nl:])
		}
		if startsWithQuery(candidate) {
			return candidate
		}
	}

	// Strategy 3: explanation first, statement after
	if !startsWithQuery(text) {
		offset := 0
		for _, line := range strings.SplitAfter(text, "\n") {
			if startsWithQuery(strings.TrimSpace(line)) {
				return strings.TrimSpace(text[offset:])
			}
			offset += len(line)
		}
	}

	return text
}

func startsWithQuery(s string) bool {
	up := strings.ToUpper(strings.TrimSpace(s))
	return hasKeywordPrefix(up, "SELECT") || hasKeywordPrefix(up, "WITH")
}

func hasKeywordPrefix(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	if len(s) == len(kw) {
		return true
	}
	c := s[len(kw)]
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == '*'
}

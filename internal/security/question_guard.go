package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/corazawaf/libinjection-go"
)

const MaxQuestionLength = 2000

// questionPatterns reject questions that try to steer the model away from
// writing a query: shell commands, file paths, code execution, instruction overrides.
var questionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-`),
	regexp.MustCompile(`(?i)\b(curl|wget|sudo)\s+`),
	regexp.MustCompile(`(?i)\b(bash|sh)\s+-`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`/etc/(passwd|shadow)`),
	regexp.MustCompile(`id_rsa|\.ssh/`),
	regexp.MustCompile(`(?i)\b(eval|exec|system|popen|__import__)\s*\(`),
	regexp.MustCompile(`(?i)os\.system`),
	regexp.MustCompile(`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)(new|change)\s+context\s*:`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
}

// QuestionGuard screens natural-language questions before any schema or model
// work is done. It is advisory: the SQL validator stays the enforcement point.
type QuestionGuard struct {
	piiKeywords []string
}

func NewQuestionGuard(piiKeywords []string) *QuestionGuard {
	lower := make([]string, 0, len(piiKeywords))
	for _, k := range piiKeywords {
		if k = strings.TrimSpace(k); k != "" {
			lower = append(lower, strings.ToLower(k))
		}
	}
	return &QuestionGuard{piiKeywords: lower}
}

// GuardResult contains the screening outcome
type GuardResult struct {
	Valid   bool
	Message string
}

// Check screens a question. Checks run cheapest first and stop at the first hit.
func (g *QuestionGuard) Check(question string) GuardResult {
	if strings.TrimSpace(question) == "" {
		return GuardResult{Valid: false, Message: "question cannot be empty"}
	}
	if len(question) > MaxQuestionLength {
		return GuardResult{
			Valid:   false,
			Message: fmt.Sprintf("question too long: %d chars (max %d)", len(question), MaxQuestionLength),
		}
	}

	if found, kw := g.DetectPII(question); found {
		return GuardResult{Valid: false, Message: fmt.Sprintf("question asks for sensitive data: %q", kw)}
	}

	for _, p := range questionPatterns {
		if p.MatchString(question) {
			return GuardResult{Valid: false, Message: fmt.Sprintf("dangerous pattern detected: %s", p.String())}
		}
	}

	if hasSQLMeta(question) {
		if isSQLi, fingerprint := libinjection.IsSQLi(question); isSQLi {
			return GuardResult{Valid: false, Message: fmt.Sprintf("question looks like SQL injection (fingerprint %s)", string(fingerprint))}
		}
	}

	return GuardResult{Valid: true, Message: "ok"}
}

// hasSQLMeta reports whether the text contains quote, terminator or comment
// characters; plain prose without them is not fingerprinted.
func hasSQLMeta(s string) bool {
	return strings.ContainsAny(s, "'\";=") || strings.Contains(s, "--") || strings.Contains(s, "/*")
}

// DetectPII returns true and the matched keyword if the text mentions a PII keyword.
func (g *QuestionGuard) DetectPII(text string) (bool, string) {
	lower := strings.ToLower(text)
	for _, kw := range g.piiKeywords {
		if strings.Contains(lower, kw) {
			return true, kw
		}
	}
	return false, ""
}

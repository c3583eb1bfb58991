package security

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

const (
	ReasonEmpty             = "SQL cannot be empty"
	ReasonInjection         = "Potential SQL injection detected"
	ReasonDangerous         = "Query contains potentially dangerous operations"
	ReasonSyntax            = "Invalid SQL syntax"
	ReasonSyntaxUnavailable = ReasonSyntax + ": syntax check unavailable"
	ReasonNotExplainable    = ReasonSyntax + ": statement cannot be planned"
)

// injectionPatterns run against the unmodified SQL text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*drop\s+`),
	regexp.MustCompile(`(?i);\s*delete\s+from\s+\w+\s*where\s+1\s*=\s*1`),
	regexp.MustCompile(`(?i);\s*truncate\s+`),
	regexp.MustCompile(`(?i);\s*exec\s*\(`),
	regexp.MustCompile(`(?i);\s*xp_cmdshell`),
	regexp.MustCompile(`(?i);\s*union\s+select`),
	regexp.MustCompile(`(?im)--\s*$`),
	regexp.MustCompile(`/\*\s*\*/`),
	regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`),
	regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`),
}

var dangerousKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
	"INSERT", "UPDATE", "GRANT", "REVOKE", "EXEC", "EXECUTE",
}

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
	leadingWordRe  = regexp.MustCompile(`^[(\s]*([A-Za-z_]+)`)
)

// ErrExplainUnavailable is returned by an Explainer that cannot plan queries
// right now. The validator then applies its SyntaxPolicy.
var ErrExplainUnavailable = errors.New("syntax check unavailable")

// Explainer plans a statement without running it.
type Explainer interface {
	Explain(ctx context.Context, sql string) error
}

// ExplainerFunc adapts a function to Explainer.
type ExplainerFunc func(ctx context.Context, sql string) error

func (f ExplainerFunc) Explain(ctx context.Context, sql string) error { return f(ctx, sql) }

// SyntaxPolicy decides the verdict when no syntax check can be performed.
type SyntaxPolicy int

const (
	// SyntaxPolicyInconclusive skips the check and adds no reason.
	SyntaxPolicyInconclusive SyntaxPolicy = iota
	// SyntaxPolicyReject treats an unavailable check as a syntax failure.
	SyntaxPolicyReject
)

func ParseSyntaxPolicy(s string) SyntaxPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "reject") {
		return SyntaxPolicyReject
	}
	return SyntaxPolicyInconclusive
}

func (p SyntaxPolicy) String() string {
	if p == SyntaxPolicyReject {
		return "reject"
	}
	return "inconclusive"
}

// Verdict is the outcome of validating one SQL text. Reasons is empty iff Accepted.
type Verdict struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons"`
}

// Message joins the rejection reasons.
func (v Verdict) Message() string {
	return strings.Join(v.Reasons, "; ")
}

// SQLValidator decides whether generated SQL may be executed.
type SQLValidator struct {
	explainer Explainer
	policy    SyntaxPolicy
}

// NewSQLValidator builds a validator. A nil explainer defers to policy.
func NewSQLValidator(explainer Explainer, policy SyntaxPolicy) *SQLValidator {
	return &SQLValidator{explainer: explainer, policy: policy}
}

// WithExplainer returns a copy of the validator bound to another explainer.
func (v *SQLValidator) WithExplainer(e Explainer) *SQLValidator {
	return &SQLValidator{explainer: e, policy: v.policy}
}

// Validate runs the injection scan, the operation allow-list and the syntax
// check, in that order, and collects every failing reason.
func (v *SQLValidator) Validate(ctx context.Context, sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return Verdict{Accepted: false, Reasons: []string{ReasonEmpty}}
	}

	var reasons []string

	if HasInjectionPattern(sql) {
		reasons = append(reasons, ReasonInjection)
	}

	if !allowedOperation(sql) {
		reasons = append(reasons, ReasonDangerous)
	}

	if r := v.checkSyntax(ctx, sql); r != "" {
		reasons = append(reasons, r)
	}

	return Verdict{Accepted: len(reasons) == 0, Reasons: reasons}
}

func (v *SQLValidator) checkSyntax(ctx context.Context, sql string) string {
	// Prefixing these with EXPLAIN yields a plan that runs the statement.
	if !Explainable(sql) {
		return ReasonNotExplainable
	}
	if v.explainer == nil {
		if v.policy == SyntaxPolicyReject {
			return ReasonSyntaxUnavailable
		}
		return ""
	}
	err := v.explainer.Explain(ctx, sql)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExplainUnavailable):
		if v.policy == SyntaxPolicyReject {
			return ReasonSyntaxUnavailable
		}
		return ""
	default:
		return ReasonSyntax + ": " + firstLine(err.Error())
	}
}

// HasInjectionPattern reports whether the text matches a known injection shape.
func HasInjectionPattern(sql string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(sql) {
			return true
		}
	}
	return false
}

// allowedOperation passes anything that starts with SELECT; other statements
// pass only when no mutating keyword appears anywhere in the text.
func allowedOperation(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	if strings.HasPrefix(upper, "SELECT") {
		return true
	}
	for _, kw := range dangerousKeywords {
		if strings.Contains(upper, kw) {
			return false
		}
	}
	return true
}

// LeadingKeyword returns the upper-cased first keyword after comments are stripped.
func LeadingKeyword(sql string) string {
	m := leadingWordRe.FindStringSubmatch(Sanitize(sql))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// Explainable reports whether "EXPLAIN " + sql only plans the statement.
func Explainable(sql string) bool {
	switch LeadingKeyword(sql) {
	case "EXPLAIN", "ANALYZE", "ANALYSE":
		return false
	}
	return true
}

// IsReadOnly classifies statements starting with SELECT or WITH as read-only.
func IsReadOnly(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

func (v *SQLValidator) IsReadOnly(sql string) bool { return IsReadOnly(sql) }

// Sanitize strips comments and collapses whitespace. It is a formatting aid
// and never runs before the injection scan.
func Sanitize(sql string) string {
	s := lineCommentRe.ReplaceAllString(sql, "")
	s = blockCommentRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func (v *SQLValidator) Sanitize(sql string) string { return Sanitize(sql) }

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

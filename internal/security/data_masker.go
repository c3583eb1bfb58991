package security

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cortexai/text2sql/internal/models"
)

var (
	emailRe      = regexp.MustCompile(`(?i)email`)
	phoneRe      = regexp.MustCompile(`(?i)phone`)
	ssnRe        = regexp.MustCompile(`(?i)ssn|social_security`)
	creditCardRe = regexp.MustCompile(`(?i)credit_card|card_number`)
	fullMaskRe   = regexp.MustCompile(`(?i)password|secret|token|api_key|access_key|private_key`)
)

// DataMasker masks sensitive column values in query results
type DataMasker struct {
	sensitiveColumns []string
}

func NewDataMasker(sensitiveColumns []string) *DataMasker {
	lower := make([]string, 0, len(sensitiveColumns))
	for _, c := range sensitiveColumns {
		if c = strings.TrimSpace(c); c != "" {
			lower = append(lower, strings.ToLower(c))
		}
	}
	return &DataMasker{sensitiveColumns: lower}
}

// MaskRows returns masked copies of rows. extra holds lower-cased column names
// flagged sensitive by schema metadata for this request.
func (m *DataMasker) MaskRows(rows []models.Row, extra map[string]bool) []models.Row {
	masked := make([]models.Row, len(rows))
	for i, row := range rows {
		masked[i] = m.maskRow(row, extra)
	}
	return masked
}

func (m *DataMasker) maskRow(row models.Row, extra map[string]bool) models.Row {
	result := make(models.Row, len(row))
	for col, val := range row {
		if !val.IsNull() && (extra[strings.ToLower(col)] || m.IsSensitive(col)) {
			result[col] = models.StringValue(maskValue(col, val.String()))
		} else {
			result[col] = val
		}
	}
	return result
}

// IsSensitive matches the column against configured names and built-in patterns.
func (m *DataMasker) IsSensitive(col string) bool {
	lower := strings.ToLower(col)
	for _, s := range m.sensitiveColumns {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return emailRe.MatchString(col) || phoneRe.MatchString(col) ||
		ssnRe.MatchString(col) || creditCardRe.MatchString(col) || fullMaskRe.MatchString(col)
}

func maskValue(col, val string) string {
	switch {
	case emailRe.MatchString(col):
		return maskEmail(val)
	case phoneRe.MatchString(col):
		return maskLast4(val, "***-***-")
	case ssnRe.MatchString(col):
		return "***-**-****"
	case creditCardRe.MatchString(col):
		return maskLast4(val, "****-****-****-")
	default:
		return "***"
	}
}

// maskEmail: "john.doe@example.com" → "jo***@***.com"
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}
	visible := min(2, len(local))
	ext := domain[strings.LastIndexByte(domain, '.')+1:]
	return fmt.Sprintf("%s***@***.%s", local[:visible], ext)
}

// maskLast4 keeps the last four digits behind prefix.
func maskLast4(val, prefix string) string {
	var digits strings.Builder
	for _, c := range val {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	d := digits.String()
	if len(d) < 4 {
		return prefix + "****"
	}
	return prefix + d[len(d)-4:]
}

package service

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/spf13/cast"
)

// scanSQLRows drains rows into normalized result rows. Rows is never nil.
func scanSQLRows(rows *sql.Rows) ([]string, []models.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}

	result := make([]models.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, models.RowFromValues(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, result, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteIdents(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = quoteIdent(v)
	}
	return out
}

// stringList converts a scanned LIST/ARRAY value into strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return t
	case string:
		// textual array form: {a,b} or [a, b]
		t = strings.Trim(t, "{}[]")
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		for i := range parts {
			parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"'`)
		}
		return parts
	default:
		return cast.ToStringSlice(t)
	}
}

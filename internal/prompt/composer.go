// Package prompt renders the single completion prompt sent to the language model.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

const baseTemplate = `You are a SQL expert. Given the following database schema:

{{.Schema}}
{{- if .Dialect}}

Write the query in {{.Dialect}}.
{{- end}}

Convert the user's natural language question into SQL.
Return only the SQL query without any explanation or formatting.

User question: {{.Question}}
SQL query:`

var tmpl = template.Must(template.New("text2sql").Parse(baseTemplate))

type slots struct {
	Schema   string
	Question string
	Dialect  string
}

// Composer renders prompts, optionally naming the target SQL dialect.
type Composer struct {
	Dialect string
}

func (c Composer) Compose(schemaText, question string) (string, error) {
	var sb strings.Builder
	err := tmpl.Execute(&sb, slots{
		Schema:   strings.TrimRight(schemaText, "\n"),
		Question: question,
		Dialect:  c.Dialect,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// Compose renders the dialect-neutral prompt.
func Compose(schemaText, question string) (string, error) {
	return Composer{}.Compose(schemaText, question)
}

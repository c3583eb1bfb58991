package service

import (
	"errors"
	"testing"
)

func TestSingleStatement(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"SELECT 1", "SELECT 1", false},
		{"  SELECT 1;  \n", "SELECT 1", false},
		{"SELECT 1;;", "SELECT 1", false},
		{"SELECT ';' AS semi", "SELECT ';' AS semi", false},
		{`SELECT "a;b" FROM t`, `SELECT "a;b" FROM t`, false},
		{"SELECT 'it''s; fine'", "SELECT 'it''s; fine'", false},
		{"SELECT 1 -- trailing; comment", "SELECT 1 -- trailing; comment", false},
		{"SELECT /* ; */ 1", "SELECT /* ; */ 1", false},
		{"SELECT 1; DROP TABLE users", "", true},
		{"SELECT 1;\nDELETE FROM t", "", true},
		{"SELECT 'x'; SELECT 2", "", true},
		{"   ", "", true},
		{";", "", true},
	}
	for _, tt := range tests {
		got, err := singleStatement(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("singleStatement(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("singleStatement(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("singleStatement(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := singleStatement("SELECT 1; SELECT 2"); !errors.Is(err, ErrMultipleStatements) {
		t.Errorf("expected ErrMultipleStatements, got %v", err)
	}
}

func TestStringList(t *testing.T) {
	tests := []struct {
		in   any
		want []string
	}{
		{nil, nil},
		{[]any{"a", "b"}, []string{"a", "b"}},
		{[]string{"x"}, []string{"x"}},
		{"{a,b}", []string{"a", "b"}},
		{"[id, name]", []string{"id", "name"}},
		{"[]", nil},
	}
	for _, tt := range tests {
		got := stringList(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("stringList(%v) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("stringList(%v) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

func TestExplainStatement(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"SELECT name FROM employees;", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"DELETE FROM employees", false},
		{"ANALYZE DELETE FROM employees", true},
		{"analyse SELECT 1", true},
		{"EXPLAIN ANALYZE SELECT 1", true},
		{"/* plan */ ANALYZE UPDATE employees SET age = 0", true},
		{"-- note\nexplain SELECT 1", true},
		{"SELECT 1; ANALYZE DELETE FROM employees", true},
	}
	for _, tt := range tests {
		_, err := explainStatement(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("explainStatement(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

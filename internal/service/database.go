package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cortexai/text2sql/internal/models"
	"github.com/cortexai/text2sql/internal/schema"
	"github.com/cortexai/text2sql/internal/security"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverBigQuery = "bigquery"
)

// DescribeOptions tune a describe call.
type DescribeOptions struct {
	// SampleRows is the number of rows per table attached to the snapshot; 0 disables.
	SampleRows int
}

// QueryResult holds the rows of one executed statement
type QueryResult struct {
	Columns             []string
	Rows                []models.Row
	TotalBytesProcessed int64
	ExecutionTimeMs     int64
}

// Database is a relational backend: it describes its schema, plans and runs
// read queries, and exposes the column metadata store.
type Database interface {
	Dialect() string
	Describe(ctx context.Context, opts DescribeOptions) (*schema.Snapshot, error)
	ColumnMetadata(ctx context.Context) (schema.MetadataIndex, error)
	Explain(ctx context.Context, sql string) error
	Execute(ctx context.Context, sql string) (*QueryResult, error)
	TestConnection(ctx context.Context) error
	Close() error
}

// Seeder is implemented by backends that can load the demo dataset.
type Seeder interface {
	ExecStatement(ctx context.Context, stmt string) error
	CountRows(ctx context.Context, table string) (int64, error)
}

var ErrMultipleStatements = errors.New("multiple SQL statements are not allowed")

// singleStatement trims a trailing terminator and rejects text that still
// holds a statement separator outside quotes and comments.
// explainStatement prepares sql for an EXPLAIN prefix.
func explainStatement(sql string) (string, error) {
	stmt, err := singleStatement(sql)
	if err != nil {
		return "", err
	}
	if !security.Explainable(stmt) {
		return "", fmt.Errorf("cannot plan a %s statement", security.LeadingKeyword(stmt))
	}
	return stmt, nil
}

func singleStatement(sql string) (string, error) {
	s := strings.TrimSpace(sql)
	s = strings.TrimSpace(strings.TrimRight(s, "; \t\r\n"))
	if s == "" {
		return "", errors.New("empty statement")
	}

	var quote rune
	lineComment, blockComment := false, false
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch {
		case lineComment:
			if c == '\n' {
				lineComment = false
			}
		case blockComment:
			if c == '*' && next == '/' {
				blockComment = false
				i++
			}
		case quote != 0:
			if c == quote {
				if next == quote {
					i++
				} else {
					quote = 0
				}
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && next == '-':
			lineComment = true
			i++
		case c == '/' && next == '*':
			blockComment = true
			i++
		case c == ';':
			return "", ErrMultipleStatements
		}
	}
	return s, nil
}

// executionError marks err as an execution failure.
func executionError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrExecutionFailure, op, err)
}

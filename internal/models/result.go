package models

import (
	"errors"
	"strconv"
	"time"
)

// QueryResult is the outcome of one question. Error is nil only when SQL was
// generated, accepted by the validator and executed.
type QueryResult struct {
	Question string    `json:"question"`
	SQL      *string   `json:"sql_query"`
	Columns  []string  `json:"columns,omitempty"`
	Rows     []Row     `json:"rows"`
	Error    *string   `json:"error"`
	Kind     ErrorKind `json:"error_kind,omitempty"`
	Reasons  []string  `json:"reasons,omitempty"`
	Duration Duration  `json:"duration_ms"`
}

// Failed reports whether the request ended before rows were produced.
func (r QueryResult) Failed() bool { return r.Error != nil }

// Err returns the failure as a Go error wrapping the kind's sentinel.
func (r QueryResult) Err() error {
	if r.Error == nil {
		return nil
	}
	if s := r.Kind.Sentinel(); s != nil {
		return &StageError{Kind: r.Kind, Msg: *r.Error}
	}
	return errors.New(*r.Error)
}

// StageError carries the failing stage alongside its message.
type StageError struct {
	Kind ErrorKind
	Msg  string
}

func (e *StageError) Error() string { return e.Msg }
func (e *StageError) Unwrap() error { return e.Kind.Sentinel() }

// Duration marshals as whole milliseconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Duration(d).Milliseconds(), 10), nil
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }

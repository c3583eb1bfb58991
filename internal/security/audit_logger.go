package security

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditRecord is one ask or query outcome with identifiers hashed.
type AuditRecord struct {
	Event        string    `json:"event"`
	Timestamp    time.Time `json:"@timestamp"`
	RequestID    string    `json:"request_id,omitempty"`
	QuestionHash string    `json:"question_hash,omitempty"`
	SQLHash      string    `json:"sql_hash,omitempty"`
	APIKeyHash   string    `json:"api_key_hash,omitempty"`
	Outcome      string    `json:"outcome"`
	RowCount     int       `json:"row_count"`
	DurationMs   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
}

// AuditSink stores audit records outside the process log.
type AuditSink interface {
	IndexAudit(ctx context.Context, rec AuditRecord) error
}

// AuditLogger logs security-relevant events with hashed identifiers
type AuditLogger struct {
	enabled bool
	sink    AuditSink
}

func NewAuditLogger(enabled bool, sink AuditSink) *AuditLogger {
	return &AuditLogger{enabled: enabled, sink: sink}
}

// AuditEntry is the unhashed input to Log.
type AuditEntry struct {
	Event     string
	RequestID string
	Question  string
	SQL       string
	APIKey    string
	Outcome   string
	RowCount  int
	Duration  time.Duration
	Error     string
}

// Log records the entry. Sink failures are logged and otherwise ignored.
func (a *AuditLogger) Log(ctx context.Context, e AuditEntry) {
	if a == nil || !a.enabled {
		return
	}
	rec := AuditRecord{
		Event:        e.Event,
		Timestamp:    time.Now().UTC(),
		RequestID:    e.RequestID,
		QuestionHash: shortHash(e.Question),
		SQLHash:      shortHash(e.SQL),
		APIKeyHash:   shortHash(e.APIKey),
		Outcome:      e.Outcome,
		RowCount:     e.RowCount,
		DurationMs:   e.Duration.Milliseconds(),
		Error:        e.Error,
	}

	evt := log.Info().
		Str("event", rec.Event).
		Str("request_id", rec.RequestID).
		Str("question_hash", rec.QuestionHash).
		Str("sql_hash", rec.SQLHash).
		Str("api_key_hash", rec.APIKeyHash).
		Str("outcome", rec.Outcome).
		Int("row_count", rec.RowCount).
		Int64("duration_ms", rec.DurationMs)
	if rec.Error != "" {
		evt = evt.Str("error", rec.Error)
	}
	evt.Msg("audit")

	if a.sink != nil {
		if err := a.sink.IndexAudit(ctx, rec); err != nil {
			log.Warn().Err(err).Str("event", rec.Event).Msg("audit sink write failed")
		}
	}
}

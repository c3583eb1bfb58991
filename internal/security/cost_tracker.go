package security

import (
	"crypto/sha256"
	"fmt"

	"github.com/rs/zerolog/log"
)

const bytesPerGB = 1_000_000_000.0
const bigQueryCostPerTB = 5.0 // USD

// CostTracker enforces the bytes-processed ceiling for warehouse backends.
type CostTracker struct {
	maxBytes int64
}

func NewCostTracker(maxBytes int64) *CostTracker {
	return &CostTracker{maxBytes: maxBytes}
}

// MaxBytes is the configured ceiling; zero or less means unlimited.
func (ct *CostTracker) MaxBytes() int64 { return ct.maxBytes }

// CheckLimits returns false and a message if the estimate exceeds the ceiling.
func (ct *CostTracker) CheckLimits(totalBytesProcessed int64) (bool, string) {
	if ct.maxBytes <= 0 || totalBytesProcessed <= ct.maxBytes {
		return true, ""
	}
	processedGB := float64(totalBytesProcessed) / bytesPerGB
	limitGB := float64(ct.maxBytes) / bytesPerGB
	return false, fmt.Sprintf(
		"Query cost limit exceeded. Processed: %.2fGB, Limit: %.2fGB",
		processedGB, limitGB,
	)
}

// LogQueryCost logs query cost info with a hashed SQL identifier
func (ct *CostTracker) LogQueryCost(sql string, totalBytesProcessed int64, durationMs int64) {
	processedGB := float64(totalBytesProcessed) / bytesPerGB
	costUSD := processedGB / 1000.0 * bigQueryCostPerTB

	log.Info().
		Str("event", "query_cost").
		Str("sql_hash", shortHash(sql)).
		Float64("cost_gb", processedGB).
		Float64("cost_usd", costUSD).
		Int64("duration_ms", durationMs).
		Msgf("Query cost: %.4fGB ($%.4f)", processedGB, costUSD)
}

func hashStr(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}

func shortHash(s string) string {
	if s == "" {
		return ""
	}
	return hashStr(s)[:16]
}

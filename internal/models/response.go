package models

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// ValidateResponse is returned by POST /api/v1/validate
type ValidateResponse struct {
	Status    string   `json:"status"`
	Accepted  bool     `json:"accepted"`
	Reasons   []string `json:"reasons"`
	ReadOnly  bool     `json:"read_only"`
	Sanitized string   `json:"sanitized"`
}

package dto

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

type HealthCheck struct {
	Status  string   `json:"status"`
	Models  []string `json:"models,omitempty"`
	Message string   `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

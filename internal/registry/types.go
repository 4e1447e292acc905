package registry

import "time"

// CreateInput carries the fields accepted when registering an endpoint.
type CreateInput struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	IsActive    *bool    `json:"isActive,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	URL         *string  `json:"url,omitempty"`
	Events      []string `json:"events,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// Policy decides when an endpoint is switched off for failing too often.
type Policy struct {
	Window     time.Duration
	Threshold  float64
	MinSamples int
}

// DefaultPolicy disables an endpoint once more than half of at least ten
// attempts in the last 48 hours failed.
func DefaultPolicy() Policy {
	return Policy{Window: 48 * time.Hour, Threshold: 0.5, MinSamples: 10}
}

// Target is what the delivery worker needs to send one attempt.
type Target struct {
	ID       string
	TenantID string
	URL      string
	Secret   string
	IsActive bool
}

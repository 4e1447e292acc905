package queue

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusAbandoned Status = "abandoned"
)

// Terminal reports whether no further attempts will be made.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusExhausted || s == StatusAbandoned
}

// Job is one logical delivery of an event to one endpoint. The same row is
// carried across every attempt; Attempt is the number of the next (or current)
// HTTP call.
type Job struct {
	ID            string
	WebhookID     string
	TenantID      string
	Event         string
	Payload       json.RawMessage
	Status        Status
	Attempt       int
	MaxAttempts   int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	NextAttemptAt time.Time
	LastError     *string
}

type EnqueueRequest struct {
	WebhookID   string
	TenantID    string
	Event       string
	Payload     json.RawMessage
	MaxAttempts int
}

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotRunning  = errors.New("job is not running")
	ErrNoAttemptsLeft = errors.New("job has no attempts left")
)

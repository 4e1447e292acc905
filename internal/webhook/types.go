package webhook

import (
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"time"
)

// Known domain events.
const (
	EventNewsletterSubscribed = "newsletter.subscribed"
	EventCommentAdded         = "comment.added"
)

// DefaultEvents is the vocabulary used when config does not extend it.
var DefaultEvents = []string{EventNewsletterSubscribed, EventCommentAdded}

// Endpoint is a tenant-configured HTTP destination. The signing secret is never
// part of this struct; see secrets.Box.
type Endpoint struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenantId"`
	URL               string     `json:"url"`
	Description       string     `json:"description,omitempty"`
	Events            []string   `json:"events"`
	IsActive          bool       `json:"isActive"`
	AutoDisabledAt    *time.Time `json:"autoDisabledAt,omitempty"`
	FailureRate       float64    `json:"failureRate"`
	SecretFingerprint string     `json:"secretFingerprint"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Subscribes reports whether the endpoint wants event.
func (e Endpoint) Subscribes(event string) bool {
	return slices.Contains(e.Events, event)
}

// AttemptStatus is the state a logical delivery reached after one attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptRetrying  AttemptStatus = "retrying"
	AttemptExhausted AttemptStatus = "exhausted"
	AttemptAbandoned AttemptStatus = "abandoned"
)

// DeliveryAttempt is one HTTP call within a logical delivery. Rows are append-only.
type DeliveryAttempt struct {
	ID             string          `json:"id"`
	DeliveryID     string          `json:"deliveryId"`
	WebhookID      string          `json:"webhookId"`
	TenantID       string          `json:"tenantId"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	URL            string          `json:"url"`
	Attempt        int             `json:"attempt"`
	Status         AttemptStatus   `json:"status"`
	HTTPStatus     *int            `json:"httpStatus"`
	ResponseTimeMs int64           `json:"responseTimeMs"`
	Signature      string          `json:"signature"`
	ResponseBody   string          `json:"responseBody,omitempty"`
	Error          *string         `json:"error"`
	DeliveredAt    time.Time       `json:"deliveredAt"`
}

// Envelope is the JSON body sent to receivers.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeBody renders the canonical request body for event. The returned bytes
// are what gets signed and sent on every attempt.
func EncodeBody(event string, data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Vocabulary is the set of event names endpoints may subscribe to.
type Vocabulary map[string]struct{}

// NewVocabulary builds a vocabulary, ignoring blanks.
func NewVocabulary(names ...string) Vocabulary {
	v := make(Vocabulary, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			v[n] = struct{}{}
		}
	}
	return v
}

func (v Vocabulary) Contains(name string) bool {
	_, ok := v[name]
	return ok
}

// Names returns the vocabulary sorted.
func (v Vocabulary) Names() []string {
	out := make([]string, 0, len(v))
	for n := range v {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NormalizeEvents trims, deduplicates and sorts event names.
func NormalizeEvents(events []string) []string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

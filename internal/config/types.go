package config

import (
	"time"

	"github.com/mattjoyce/blazehooks/internal/webhook"
)

// Config represents the complete blazehooks configuration.
type Config struct {
	Include     []string          `yaml:"include,omitempty"`
	Service     ServiceConfig     `yaml:"service"`
	State       StateConfig       `yaml:"state"`
	API         APIConfig         `yaml:"api"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	AutoDisable AutoDisableConfig `yaml:"auto_disable"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	Events      []string          `yaml:"events,omitempty"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Broadcast   BroadcastConfig   `yaml:"broadcast,omitempty"`
	Retention   RetentionConfig   `yaml:"retention"`
	Receiver    ReceiverConfig    `yaml:"receiver,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken binds a bearer token to one tenant and a set of scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Tenant string   `yaml:"tenant"`
	Scopes []string `yaml:"scopes"`
}

// DeliveryConfig controls the outbound worker pool.
type DeliveryConfig struct {
	Workers           int             `yaml:"workers"`
	MaxAttempts       int             `yaml:"max_attempts"`
	BackoffBase       time.Duration   `yaml:"backoff_base"`
	BackoffMax        time.Duration   `yaml:"backoff_max"`
	Timeout           time.Duration   `yaml:"timeout"`
	PollInterval      time.Duration   `yaml:"poll_interval"`
	ResponseBodyLimit int64           `yaml:"response_body_limit"`
	UserAgent         string          `yaml:"user_agent"`
	AllowInsecureURLs bool            `yaml:"allow_insecure_urls"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a per-endpoint token bucket. PerSecond 0 disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// AutoDisableConfig is the failure-rate policy applied after every attempt.
type AutoDisableConfig struct {
	Window     time.Duration `yaml:"window"`
	Threshold  float64       `yaml:"threshold"`
	MinSamples int           `yaml:"min_samples"`
}

// SecretsConfig holds the key used to seal signing secrets at rest.
type SecretsConfig struct {
	MasterKey string `yaml:"master_key"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// BroadcastConfig mirrors delivery events to Redis when RedisURL is set.
type BroadcastConfig struct {
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

// RetentionConfig controls pruning of the attempt log and finished jobs.
type RetentionConfig struct {
	AttemptLog    time.Duration `yaml:"attempt_log"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// ReceiverConfig configures `blazehooks receive`.
type ReceiverConfig struct {
	Listen      string        `yaml:"listen"`
	Path        string        `yaml:"path"`
	Secret      string        `yaml:"secret"`
	Tolerance   time.Duration `yaml:"tolerance"`
	MaxBodySize string        `yaml:"max_body_size"`
}

// Defaults returns a Config with the service defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "blazehooks",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/blazehooks.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Delivery: DeliveryConfig{
			Workers:           4,
			MaxAttempts:       5,
			BackoffBase:       30 * time.Second,
			BackoffMax:        time.Hour,
			Timeout:           10 * time.Second,
			PollInterval:      time.Second,
			ResponseBodyLimit: 1024,
			UserAgent:         "BlazeBlog-Webhooks/1.0",
		},
		AutoDisable: AutoDisableConfig{
			Window:     48 * time.Hour,
			Threshold:  0.5,
			MinSamples: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Broadcast: BroadcastConfig{
			Channel: "blazehooks:deliveries",
		},
		Retention: RetentionConfig{
			AttemptLog:    30 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Receiver: ReceiverConfig{
			Listen:      "127.0.0.1:9090",
			Path:        webhook.DefaultReceiverPath,
			Tolerance:   webhook.DefaultTolerance,
			MaxBodySize: "1MB",
		},
	}
}

// EventVocabulary is the built-in event set extended by the events list.
func (c *Config) EventVocabulary() webhook.Vocabulary {
	names := append([]string{}, webhook.DefaultEvents...)
	return webhook.NewVocabulary(append(names, c.Events...)...)
}

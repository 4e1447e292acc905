package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/blazehooks/internal/auth"
	"github.com/mattjoyce/blazehooks/internal/secrets"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if err := validateDelivery(cfg.Delivery); err != nil {
		return err
	}
	if err := validateAutoDisable(cfg.AutoDisable); err != nil {
		return err
	}

	if cfg.Secrets.MasterKey != "" {
		if name, ok := unresolvedEnv(cfg.Secrets.MasterKey); ok {
			return fmt.Errorf("secrets.master_key: environment variable ${%s} is not set", name)
		}
		if _, err := secrets.NewBox(cfg.Secrets.MasterKey); err != nil {
			return fmt.Errorf("secrets.master_key: %w", err)
		}
	}

	for i, name := range cfg.Events {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("events[%d] must be non-empty", i)
		}
	}

	if cfg.API.Enabled {
		if err := validateTokens(cfg.API.Auth.Tokens); err != nil {
			return err
		}
	}

	if name, ok := unresolvedEnv(cfg.Broadcast.RedisURL); ok {
		return fmt.Errorf("broadcast.redis_url: environment variable ${%s} is not set", name)
	}

	if cfg.Retention.AttemptLog < 0 || cfg.Retention.PruneInterval < 0 {
		return fmt.Errorf("retention durations must not be negative")
	}

	if cfg.Receiver.MaxBodySize != "" {
		if _, err := webhook.ParseByteSize(cfg.Receiver.MaxBodySize); err != nil {
			return fmt.Errorf("receiver.max_body_size: %w", err)
		}
	}
	return nil
}

func validateDelivery(d DeliveryConfig) error {
	if d.Workers < 1 {
		return fmt.Errorf("delivery.workers must be at least 1")
	}
	if d.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be at least 1")
	}
	if d.BackoffBase <= 0 || d.BackoffMax <= 0 {
		return fmt.Errorf("delivery.backoff_base and delivery.backoff_max must be positive")
	}
	if d.BackoffMax < d.BackoffBase {
		return fmt.Errorf("delivery.backoff_max (%s) must not be below backoff_base (%s)", d.BackoffMax, d.BackoffBase)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be positive")
	}
	if d.ResponseBodyLimit < 0 {
		return fmt.Errorf("delivery.response_body_limit must not be negative")
	}
	if d.RateLimit.PerSecond < 0 || d.RateLimit.Burst < 0 {
		return fmt.Errorf("delivery.rate_limit values must not be negative")
	}
	if d.RateLimit.PerSecond > 0 && d.RateLimit.Burst == 0 {
		return fmt.Errorf("delivery.rate_limit.burst must be at least 1 when per_second is set")
	}
	return nil
}

func validateAutoDisable(a AutoDisableConfig) error {
	if a.Window <= 0 {
		return fmt.Errorf("auto_disable.window must be positive")
	}
	if a.Threshold < 0 || a.Threshold >= 1 {
		return fmt.Errorf("auto_disable.threshold must be in [0, 1) (got %v)", a.Threshold)
	}
	if a.MinSamples < 1 {
		return fmt.Errorf("auto_disable.min_samples must be at least 1")
	}
	return nil
}

func validateTokens(tokens []APIToken) error {
	seen := make(map[string]bool, len(tokens))
	for i, tok := range tokens {
		if tok.Token == "" {
			return fmt.Errorf("api.auth.tokens[%d].token is required", i)
		}
		if name, ok := unresolvedEnv(tok.Token); ok {
			return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, name)
		}
		if seen[tok.Token] {
			return fmt.Errorf("api.auth.tokens[%d].token is duplicated", i)
		}
		seen[tok.Token] = true
		if tok.Tenant == "" {
			return fmt.Errorf("api.auth.tokens[%d].tenant is required", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
		}
		for _, s := range tok.Scopes {
			if !auth.KnownScope(s) {
				return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, s)
			}
		}
	}
	return nil
}

package tool

import (
	"math"
	"strings"
	"time"

	"amplicon-pipeline/internal/model"
)

// fallbackPolicy applies to tool classes without a configured policy: one attempt.
var fallbackPolicy = model.RetryConfig{MaxAttempts: 1}

// Policies resolves the retry policy of a tool class.
type Policies map[string]model.RetryConfig

// NewPolicies layers overrides on top of model.DefaultRetryConfigs.
func NewPolicies(overrides map[string]model.RetryConfig) Policies {
	p := make(Policies, len(model.DefaultRetryConfigs)+len(overrides))
	for class, cfg := range model.DefaultRetryConfigs {
		p[class] = cfg
	}
	for class, cfg := range overrides {
		p[class] = cfg
	}
	return p
}

// For returns the policy of class, falling back to a single attempt.
func (p Policies) For(class string) model.RetryConfig {
	if cfg, ok := p[class]; ok {
		if cfg.MaxAttempts < 1 {
			cfg.MaxAttempts = 1
		}
		return cfg
	}
	return fallbackPolicy
}

// backoff returns the delay before retry number attempt (1-based).
func backoff(cfg model.RetryConfig, attempt int) time.Duration {
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// isTransient decides whether a failed call's stderr matches the class's
// retryable patterns. Non-retryable patterns win; unknown failures are fatal.
func isTransient(cfg model.RetryConfig, stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, p := range cfg.NonRetryableErrors {
		if strings.Contains(lower, strings.ToLower(p)) {
			return false
		}
	}
	for _, p := range cfg.RetryableErrors {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

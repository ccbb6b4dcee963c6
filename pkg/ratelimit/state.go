// Package ratelimit implements card API request-budget tracking and gating.
// It monitors the X-RateLimit-Remain and X-RateLimit-Reset response headers
// so many short-lived extension workers sharing one account stay inside the
// server's budget instead of tripping a hard ban.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "cardapi:rate_limit:remaining"
	RedisKeyResetTimestamp = "cardapi:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "cardapi:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when the remaining budget falls
	// below this value.
	ThresholdCritical = 5

	// ThresholdWarning applies throttling when the remaining budget falls
	// below this value, slowing bulk traffic before the hard stop.
	ThresholdWarning = 20

	// ThresholdHealthy indicates normal operation. At or above this value no
	// restrictions apply.
	ThresholdHealthy = 50
)

// State represents the current shared request-budget state.
// It is shared across all client instances via Redis.
type State struct {
	// Remaining is the number of requests allowed before the server blocks.
	// Extracted from the X-RateLimit-Remain header.
	Remaining int `json:"remaining"`

	// ResetAt is the timestamp when the budget window resets.
	// Calculated from the X-RateLimit-Reset header (seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last updated, used to detect stale
	// data.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the budget resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on the current budget.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

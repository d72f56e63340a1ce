package fulfillment

import (
	"time"

	"github.com/smallbiznis/entitled/internal/config"
)

// Backoff returns the policy delay before re-attempting a transient failure:
// base * 2^(attempt-1), capped at the policy maximum. Attempts are 1-based.
func Backoff(policy config.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := policy.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxBackoff {
			return policy.MaxBackoff
		}
	}
	if delay > policy.MaxBackoff {
		return policy.MaxBackoff
	}
	return delay
}

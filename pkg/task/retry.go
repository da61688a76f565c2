package task

import (
	"time"

	"license-accrual/pkg/config"

	"github.com/hibiken/asynq"
)

const (
	maxBackoffShift = 16

	DefaultMaxRetry = 3
)

// MaxRetry is QUEUE.MAX_RETRY, or DefaultMaxRetry when unset.
func MaxRetry(cfg *config.Config) int {
	if cfg == nil || cfg.Queue.MaxRetry <= 0 {
		return DefaultMaxRetry
	}
	return cfg.Queue.MaxRetry
}

// ExponentialBackoff returns base * 2^n for the n-th retry (n starts at 0).
func ExponentialBackoff(base time.Duration) asynq.RetryDelayFunc {
	if base <= 0 {
		base = 30 * time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n < 0 {
			n = 0
		}
		if n > maxBackoffShift {
			n = maxBackoffShift
		}
		return base * time.Duration(1<<uint(n))
	}
}

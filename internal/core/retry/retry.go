package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go"

	"github.com/xuecangming/folder-copy/internal/common/types"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts, including the first one
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Jitter       bool          // Whether to add jitter to delays
}

// DefaultConfig returns default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// FromSettings builds a Config from the retry section of the application config
func FromSettings(cfg types.RetryConfig) *Config {
	config := DefaultConfig()
	if cfg.MaxAttempts > 0 {
		config.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		config.InitialDelay = time.Duration(cfg.InitialDelay) * time.Millisecond
	}
	if cfg.MaxDelay > 0 {
		config.MaxDelay = time.Duration(cfg.MaxDelay) * time.Millisecond
	}
	return config
}

// OperationWithContext is a function with context that can be retried
type OperationWithContext func(ctx context.Context) error

// IsRetryable checks if an error should be retried
type IsRetryable func(error) bool

// DoWithContext executes an operation with context and retry logic
func DoWithContext(ctx context.Context, op OperationWithContext, config *Config) error {
	return DoWithContextAndRetryable(ctx, op, config, func(error) bool { return true })
}

// DoWithContextAndRetryable executes an operation with context and custom
// retry logic. The last error is returned unchanged so callers can inspect it.
func DoWithContextAndRetryable(ctx context.Context, op OperationWithContext, config *Config, isRetryable IsRetryable) error {
	if config == nil {
		config = DefaultConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delayType := retrygo.BackOffDelay
	if config.Jitter {
		delayType = retrygo.CombineDelay(retrygo.BackOffDelay, retrygo.RandomDelay)
	}

	return retrygo.Do(
		func() error { return op(ctx) },
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.Delay(config.InitialDelay),
		retrygo.MaxDelay(config.MaxDelay),
		retrygo.MaxJitter(config.InitialDelay/4+1),
		retrygo.DelayType(delayType),
		retrygo.RetryIf(retrygo.RetryIfFunc(isRetryable)),
		retrygo.LastErrorOnly(true),
	)
}

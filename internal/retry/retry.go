package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = time.Second
	DefaultMultiplier      = 2
)

// Policy retries an operation with exponential backoff. The first wait is
// InitialInterval and every following wait is multiplied by Multiplier.
// A zero InitialInterval retries without waiting.
type Policy struct {
	MaxAttempts     int           `mapstructure:"max-attempts"`
	InitialInterval time.Duration `mapstructure:"initial-interval"`
	Multiplier      float64       `mapstructure:"multiplier"`

	Logger *zap.Logger `mapstructure:"-" json:"-"`
	// Timer replaces the real timer, tests use it to skip waits.
	Timer backoff.Timer `mapstructure:"-" json:"-"`
}

func Default() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	attempt := 0
	op := func() error {
		attempt++
		return fn(ctx)
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("provider call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.attempts()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotifyWithTimer(op, p.backOff(ctx), notify, p.Timer)
	if err != nil {
		logger.Error("provider call failed",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	return err
}

// Value is Do for operations returning a result.
func Value[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = DefaultMultiplier
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialInterval
	expo.Multiplier = multiplier
	expo.RandomizationFactor = 0
	expo.MaxInterval = backoff.DefaultMaxInterval
	expo.MaxElapsedTime = 0
	expo.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.attempts()-1)), ctx)
}

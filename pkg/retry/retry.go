// Package retry runs a single pipeline stage call with a bounded number of attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

const inputLogLimit = 80

// Config bounds the attempts of one stage call. MaxRetries is the total
// number of attempts, including the first one.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns two attempts, two seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
	}
}

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetry     Outcome = "retry"
	OutcomeFatal     Outcome = "fatal"
	OutcomeExhausted Outcome = "exhausted"
)

// Observer is notified after every attempt.
type Observer func(stage string, attempt int, outcome Outcome)

type Executor struct {
	cfg       Config
	observers []Observer
}

type Option func(*Executor)

func WithObserver(fn Observer) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, fn)
	}
}

func New(cfg Config, opts ...Option) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	e := &Executor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// ExhaustedError is returned when every attempt of a stage failed with a retryable error.
type ExhaustedError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: stage exhausted after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func (e *ExhaustedError) Is(target error) bool {
	return target == model.ErrStageExhausted
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, model.ErrValidation) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Execute calls fn(ctx, input) until it succeeds, fails with a fatal error or
// runs out of attempts. A fatal error is returned as is; running out of
// attempts yields *ExhaustedError wrapping the last error.
func Execute[In, Out any](ctx context.Context, e *Executor, stage string, fn func(context.Context, In) (Out, error), input In) (Out, error) {
	logger := logging.From(ctx).With("stage", stage)
	inputText := logging.Truncate(fmt.Sprint(input), inputLogLimit)
	maxAttempts := e.cfg.MaxRetries

	var (
		attempts int
		lastErr  error
	)

	builder := retrypolicy.NewBuilder[Out]().
		WithMaxAttempts(maxAttempts).
		AbortIf(func(_ Out, err error) bool { return IsFatal(err) }).
		ReturnLastFailure()
	if e.cfg.RetryDelay > 0 {
		builder = builder.WithDelay(e.cfg.RetryDelay)
	}

	result, err := failsafe.With(builder.Build()).WithContext(ctx).Get(func() (Out, error) {
		attempts++
		out, err := fn(ctx, input)
		lastErr = err

		outcome := OutcomeSuccess
		switch {
		case err == nil:
		case IsFatal(err):
			outcome = OutcomeFatal
		case attempts < maxAttempts:
			outcome = OutcomeRetry
		default:
			outcome = OutcomeExhausted
		}

		attrs := []any{"attempt", attempts, "max_attempts", maxAttempts, "input", inputText, "outcome", outcome}
		if err != nil {
			logger.Warn("stage attempt failed", append(attrs, "error", err)...)
		} else {
			logger.Info("stage attempt succeeded", attrs...)
		}
		for _, observe := range e.observers {
			observe(stage, attempts, outcome)
		}

		return out, err
	})
	if err == nil {
		return result, nil
	}

	var zero Out
	switch {
	case lastErr == nil:
		return zero, goerr.Wrap(err, "stage interrupted", goerr.V("stage", stage))
	case IsFatal(lastErr):
		return zero, lastErr
	case attempts < maxAttempts && ctx.Err() != nil:
		return zero, goerr.Wrap(ctx.Err(), "stage interrupted", goerr.V("stage", stage), goerr.V("attempts", attempts))
	}

	return zero, &ExhaustedError{
		Stage:    stage,
		Attempts: attempts,
		Err:      lastErr,
	}
}

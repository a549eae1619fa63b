package queue

import (
	"errors"
	"math"
	"time"

	"github.com/vietddude/explorer/internal/core/timeout"
)

// RetryStrategy defines how failed jobs are retried.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// FailureCategory groups handler errors.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier maps an error to a FailureCategory.
type Classifier func(err error) FailureCategory

// ClassifyError treats decode failures as permanent and everything else as
// transient, since handlers only propagate errors worth another attempt.
func ClassifyError(err error) FailureCategory {
	if err == nil {
		return CategoryTransient
	}
	if timeout.IsRecoverable(err) {
		return CategoryTransient
	}
	var payloadErr *PayloadError
	if errors.As(err, &payloadErr) {
		return CategoryPermanent
	}
	return CategoryTransient
}

// PayloadError marks a job whose payload can never be processed.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "invalid payload: " + e.Err.Error() }
func (e *PayloadError) Unwrap() error { return e.Err }

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff returns 2s, 4s, 8s, 16s, 32s (max 60s).
func DefaultBackoff(maxAttempts int) *ExponentialBackoff {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  maxAttempts,
		Classifier:   ClassifyError,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt+1 >= s.MaxAttempts {
		return false
	}
	return s.Classifier(err) == CategoryTransient
}

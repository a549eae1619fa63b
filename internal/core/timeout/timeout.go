// Package timeout bounds outbound calls and recognises errors that should be
// reported as soft results instead of failing a job.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrTimedOut is returned when a bounded call does not finish in time.
var ErrTimedOut = errors.New("timed out")

// Do runs fn with a context that expires after d. If fn has not returned by
// then, Do returns ErrTimedOut without waiting for it.
func Do[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %v", ErrTimedOut, d, r.err)
		}
		return r.val, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimedOut, d)
		}
		return zero, ctx.Err()
	}
}

// Run is Do for calls that only return an error.
func Run(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := Do(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

var networkPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"econnrefused",
	"econnreset",
	"enotfound",
	"eai_again",
	"unexpected eof",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
}

// IsRecoverable reports whether err is a timeout or network failure.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

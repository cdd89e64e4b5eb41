package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/chatpipe/pipeline"
)

// RetryConfig configures retries of model and tool calls.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryableErrors decides whether an error should trigger a retry.
	// Nil retries every error.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns three attempts with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// callProvider runs fn with the node's timeout and retry policy. Each attempt
// runs on a context detached from run cancellation, so a cancelled run lets
// the in-flight call finish or time out instead of interrupting it.
func (rc *RunContext) callProvider(ctx context.Context, node *pipeline.Node, provider string, fn func(context.Context) (string, error)) (string, error) {
	cfg := rc.exec.retry
	attempts := cfg.MaxAttempts
	if node.MaxAttempts > 0 {
		attempts = node.MaxAttempts
	}
	attempts = max(attempts, 1)
	timeout := rc.exec.providerTimeout
	if node.Timeout > 0 {
		timeout = node.Timeout
	}

	delay := cfg.InitialDelay
	var (
		lastErr  error
		timedOut bool
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return "", ErrCancelled
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		out, err := fn(callCtx)
		timedOut = errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil && !timedOut {
			return out, nil
		}
		if err == nil {
			err = fmt.Errorf("no response within %v", timeout)
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		if cfg.RetryableErrors != nil && !cfg.RetryableErrors(err) {
			return "", &ProviderError{Provider: provider, Attempts: attempt, Timeout: timedOut, Err: err}
		}
		if attempt == attempts {
			break
		}

		rc.logger.Warn("%s call for node %s failed (attempt %d/%d): %v", provider, node.Name, attempt, attempts, err)
		rc.exec.metrics.IncProviderRetry(string(node.Type))
		select {
		case <-time.After(delay):
			delay = min(time.Duration(float64(delay)*cfg.BackoffFactor), cfg.MaxDelay)
		case <-ctx.Done():
			return "", ErrCancelled
		}
	}
	return "", &ProviderError{Provider: provider, Attempts: attempts, Timeout: timedOut, Err: lastErr}
}

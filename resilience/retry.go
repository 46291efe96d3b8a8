// Package resilience implements the HTTP retry and deadline engine used
// by the upstream fetchers and the vision client.
package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
)

// DefaultRetryableStatuses are the HTTP statuses that trigger a retry.
var DefaultRetryableStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// RequestConfig configures RequestWithRetry.
type RequestConfig struct {
	// MaxAttempts is the total number of attempts (not extra retries).
	MaxAttempts int

	// Timeout is the per-attempt timeout. Zero uses the client's own.
	Timeout time.Duration

	// BackoffBase is the base for exponential backoff:
	// sleep(i) = BackoffBase * 2^(i-1). Default 500ms.
	BackoffBase time.Duration

	// RetryableStatuses overrides DefaultRetryableStatuses when non-nil.
	RetryableStatuses map[int]struct{}

	// DeadlineEpoch is an absolute Unix-seconds deadline. Zero disables
	// deadline checks.
	DeadlineEpoch float64

	// MinAttemptBudget is the minimum time that must remain before the
	// deadline to start another attempt or sleep. Default 5s.
	MinAttemptBudget time.Duration

	// Body, when non-nil, is sent as the request body on every attempt.
	Body []byte

	// Header entries are added to every attempt's request.
	Header http.Header

	Logger core.Logger
}

// RetryExhaustedError is returned when all attempts ended with retryable
// statuses. It carries the last status for error-code classification.
type RetryExhaustedError struct {
	StatusCode int
	Attempts   int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts, last status: %d", e.Attempts, e.StatusCode)
}

func (e *RetryExhaustedError) Unwrap() error { return core.ErrRetryExhausted }

// DeadlineExceededError is returned when an attempt or a backoff sleep
// would run past the deadline.
type DeadlineExceededError struct {
	RemainingMS float64
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("deadline exceeded, only %.0fms remaining", e.RemainingMS)
}

func (e *DeadlineExceededError) Unwrap() error { return core.ErrDeadlineExceeded }

// timeNow is swapped in tests to pin the deadline arithmetic.
var timeNow = time.Now

// RequestWithRetry performs an HTTP request with exponential backoff on
// retryable statuses.
//
// Contract:
//   - Attempts are numbered 1..MaxAttempts. A response with a status
//     outside the retryable set is returned to the caller as-is, success
//     or not.
//   - A Retry-After header parseable as float seconds overrides the
//     computed backoff.
//   - The deadline is checked before each attempt and before each sleep;
//     either check failing returns DeadlineExceededError immediately.
//   - Released attempts drain and close the response body before
//     sleeping so pooled connections are not leaked.
//   - Transport-level errors are not retried; they propagate unwrapped.
func RequestWithRetry(ctx context.Context, client *http.Client, method, url string, cfg RequestConfig) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.MinAttemptBudget <= 0 {
		cfg.MinAttemptBudget = 5 * time.Second
	}
	retryable := cfg.RetryableStatuses
	if retryable == nil {
		retryable = DefaultRetryableStatuses
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	httpClient := client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout > 0 {
		clone := *httpClient
		clone.Timeout = cfg.Timeout
		httpClient = &clone
	}

	minBudget := cfg.MinAttemptBudget.Seconds()
	lastStatus := 0

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.DeadlineEpoch > 0 {
			remaining := cfg.DeadlineEpoch - epochSeconds()
			if remaining < minBudget {
				return nil, &DeadlineExceededError{RemainingMS: remaining * 1000}
			}
		}

		var body io.Reader
		if cfg.Body != nil {
			body = bytes.NewReader(cfg.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		for key, values := range cfg.Header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			// Transport errors propagate without retry
			return nil, err
		}

		if _, ok := retryable[resp.StatusCode]; !ok {
			return resp, nil
		}

		retryAfter := resp.Header.Get("Retry-After")
		lastStatus = resp.StatusCode

		// Release the connection back to the pool before sleeping
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if attempt >= cfg.MaxAttempts {
			break
		}

		sleep := cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
		if retryAfter != "" {
			if seconds, parseErr := strconv.ParseFloat(retryAfter, 64); parseErr == nil {
				sleep = time.Duration(seconds * float64(time.Second))
			}
		}

		if cfg.DeadlineEpoch > 0 {
			afterSleep := epochSeconds() + sleep.Seconds()
			if afterSleep+minBudget > cfg.DeadlineEpoch {
				return nil, &DeadlineExceededError{
					RemainingMS: (cfg.DeadlineEpoch - epochSeconds()) * 1000,
				}
			}
		}

		logger.Warn("Retryable status, backing off", map[string]interface{}{
			"operation":   "http_retry_wait",
			"url":         url,
			"status_code": lastStatus,
			"attempt":     attempt,
			"max_retries": cfg.MaxAttempts,
			"sleep_ms":    sleep.Milliseconds(),
		})

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, &RetryExhaustedError{StatusCode: lastStatus, Attempts: cfg.MaxAttempts}
}

func epochSeconds() float64 {
	return float64(timeNow().UnixNano()) / float64(time.Second)
}

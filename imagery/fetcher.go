// Package imagery fetches satellite imagery from the upstream providers
// (Mapbox raster tiles, Google Static Maps).
package imagery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/resilience"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

// SecretSource supplies the upstream API credentials. Implemented by
// secrets.Cache.
type SecretSource interface {
	GetSecretJSON(ctx context.Context, secretID string) (map[string]string, error)
}

// FetchError is a non-retryable upstream response. StatusCode drives the
// error-code classification in the processor.
type FetchError struct {
	Source     schema.ImagerySource
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed with status %d: %s", e.Source, e.StatusCode, e.Message)
}

// Fetcher downloads imagery for a tile job, retrying retryable upstream
// statuses with the shared retry engine.
type Fetcher struct {
	httpClient *http.Client
	secrets    SecretSource
	secretID   string
	logger     core.Logger

	maxRetries int
	timeout    time.Duration
}

// NewFetcher creates a Fetcher. httpClient may be nil to use the default
// client.
func NewFetcher(httpClient *http.Client, secrets SecretSource, secretID string, maxRetries int, timeout time.Duration, logger core.Logger) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Fetcher{
		httpClient: httpClient,
		secrets:    secrets,
		secretID:   secretID,
		logger:     logger,
		maxRetries: maxRetries,
		timeout:    timeout,
	}
}

// Fetch downloads the imagery for the message from its provider.
// deadlineEpoch bounds the retry loop; zero disables the deadline.
func (f *Fetcher) Fetch(ctx context.Context, m *schema.TileJobMessage, deadlineEpoch float64) ([]byte, error) {
	switch m.ImagerySource {
	case schema.SourceMapbox:
		return f.fetchMapbox(ctx, m, deadlineEpoch)
	case schema.SourceGoogle:
		return f.fetchGoogle(ctx, m, deadlineEpoch)
	default:
		return nil, fmt.Errorf("unknown imagery source %q", m.ImagerySource)
	}
}

// credential returns the named key from the pipeline secret.
func (f *Fetcher) credential(ctx context.Context, name string) (string, error) {
	values, err := f.secrets.GetSecretJSON(ctx, f.secretID)
	if err != nil {
		return "", err
	}
	value, ok := values[name]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: secret %s has no %s", core.ErrMissingConfiguration, f.secretID, name)
	}
	return value, nil
}

// get runs a provider request through the retry engine and reads the
// body on success. A non-2xx terminal status becomes a FetchError.
func (f *Fetcher) get(ctx context.Context, source schema.ImagerySource, url string, deadlineEpoch float64) ([]byte, error) {
	resp, err := resilience.RequestWithRetry(ctx, f.httpClient, http.MethodGet, url, resilience.RequestConfig{
		MaxAttempts:   f.maxRetries,
		Timeout:       f.timeout,
		DeadlineEpoch: deadlineEpoch,
		Logger:        f.logger,
	})
	if err != nil {
		if isTimeout(err) {
			// StatusCode zero marks a transport timeout; the processor
			// records it as a provider timeout.
			return nil, &FetchError{Source: source, StatusCode: 0, Message: err.Error()}
		}
		// Retry-exhausted and deadline errors carry their own codes;
		// they propagate for the processor to classify.
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep a short body excerpt for the failure record
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &FetchError{
			Source:     source,
			StatusCode: resp.StatusCode,
			Message:    string(excerpt),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// isTimeout reports whether an error is a transport-level timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package imagery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/schema"
)

type fakeSecrets struct {
	values map[string]string
}

func (f *fakeSecrets) GetSecretJSON(ctx context.Context, secretID string) (map[string]string, error) {
	return f.values, nil
}

func newTestFetcher(client *http.Client) *Fetcher {
	secrets := &fakeSecrets{values: map[string]string{
		"MAPBOX_TOKEN":        "pk.test",
		"GOOGLE_MAPS_API_KEY": "g-test",
	}}
	return NewFetcher(client, secrets, "pipeline/secrets", 2, 5*time.Second, nil)
}

func TestGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tile-bytes"))
	}))
	defer server.Close()

	f := newTestFetcher(server.Client())
	body, err := f.get(context.Background(), schema.SourceMapbox, server.URL, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile-bytes"), body)
}

func TestGetTerminalStatusBecomesFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	}))
	defer server.Close()

	f := newTestFetcher(server.Client())
	_, err := f.get(context.Background(), schema.SourceMapbox, server.URL, 0)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, schema.SourceMapbox, fetchErr.Source)
	assert.Equal(t, http.StatusUnauthorized, fetchErr.StatusCode)
	assert.Contains(t, fetchErr.Message, "invalid token")
}

func TestGetRetryExhaustedPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	secrets := &fakeSecrets{values: map[string]string{"MAPBOX_TOKEN": "pk"}}
	f := NewFetcher(server.Client(), secrets, "id", 2, 5*time.Second, nil)
	// Keep the test fast: the retry engine's backoff base is fixed, so
	// exercise it through the engine defaults with two attempts only.
	start := time.Now()
	_, err := f.get(context.Background(), schema.SourceMapbox, server.URL, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRetryExhausted)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestGetTimeoutBecomesFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	secrets := &fakeSecrets{values: map[string]string{"MAPBOX_TOKEN": "pk"}}
	f := NewFetcher(server.Client(), secrets, "id", 1, 20*time.Millisecond, nil)

	_, err := f.get(context.Background(), schema.SourceGoogle, server.URL, 0)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, schema.SourceGoogle, fetchErr.Source)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestFetchMissingCredential(t *testing.T) {
	f := NewFetcher(http.DefaultClient, &fakeSecrets{values: map[string]string{}}, "id", 1, time.Second, nil)

	msg := &schema.TileJobMessage{
		RunID:         "run_abc",
		ImagerySource: schema.SourceMapbox,
		Z:             intPtr(14), X: intPtr(1), Y: intPtr(2),
	}
	_, err := f.Fetch(context.Background(), msg, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingConfiguration)
}

func TestFetchUnknownSource(t *testing.T) {
	f := newTestFetcher(http.DefaultClient)
	msg := &schema.TileJobMessage{RunID: "run_abc", ImagerySource: "bing"}

	_, err := f.Fetch(context.Background(), msg, 0)
	require.Error(t, err)
}

func intPtr(v int) *int { return &v }

package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/httpclient"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestFetcher(configs map[models.SourcePlatform]SourceConfig) *Fetcher {
	logger := testLogger()
	return New(httpclient.NewClient(httpclient.DefaultConfig(), logger), nil, nil, configs, logger)
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(nil)
	resp, err := f.Fetch(context.Background(), Request{
		Source: models.PlatformGoodreads,
		URL:    server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []byte("<html>ok</html>"), resp.Body)
	assert.False(t, resp.FetchedAt.IsZero())
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(nil)
	_, err := f.Fetch(context.Background(), Request{
		Source: models.PlatformGoodreads,
		URL:    server.URL,
	})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Retryable())
}

func TestFetchThrottleRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(map[models.SourcePlatform]SourceConfig{
		models.PlatformGoodreads: {RetryAfterCap: 50 * time.Millisecond},
	})

	resp, err := f.Fetch(context.Background(), Request{
		Source: models.PlatformGoodreads,
		URL:    server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchThrottleTwiceFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newTestFetcher(map[models.SourcePlatform]SourceConfig{
		models.PlatformGoodreads: {RetryAfterCap: 10 * time.Millisecond},
	})

	_, err := f.Fetch(context.Background(), Request{
		Source: models.PlatformGoodreads,
		URL:    server.URL,
	})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	assert.True(t, fe.Retryable())
}

func TestRequestSpacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	delay := 30 * time.Millisecond
	f := newTestFetcher(map[models.SourcePlatform]SourceConfig{
		models.PlatformGoodreads: {RequestDelay: delay},
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), Request{
			Source: models.PlatformGoodreads,
			URL:    server.URL,
		})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
}

func TestCacheKeyStableAndDistinct(t *testing.T) {
	f := newTestFetcher(nil)
	a := f.cacheKey(Request{Source: models.PlatformGoodreads, URL: "https://x/1"})
	b := f.cacheKey(Request{Source: models.PlatformGoodreads, URL: "https://x/1"})
	c := f.cacheKey(Request{Source: models.PlatformGoodreads, URL: "https://x/2"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/jzhao23/social-reading-discovery/pkg/httpclient"
	"github.com/jzhao23/social-reading-discovery/pkg/metrics"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/ratelimit"
	"github.com/jzhao23/social-reading-discovery/pkg/redis"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

// FetchError is returned for non-2xx upstream responses
type FetchError struct {
	Source     models.SourcePlatform
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s returned %d", e.Source, e.URL, e.StatusCode)
}

// Retryable reports whether the request is worth retrying
func (e *FetchError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether the upstream returned 404
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}

// SourceConfig holds per-source fetch behavior
type SourceConfig struct {
	// RequestDelay is the minimum spacing between requests from this instance
	RequestDelay time.Duration

	// CacheTTL bounds how long successful responses are cached
	CacheTTL time.Duration

	// RetryAfterCap bounds how long a 429 Retry-After can block the source
	RetryAfterCap time.Duration

	// MaxWait bounds how long a fetch will wait on the shared rate limit
	MaxWait time.Duration

	// Limits are the shared sliding-window limits for this source
	Limits []ratelimit.Limit
}

// CachedResponse is the cache representation of a successful fetch
type CachedResponse struct {
	StatusCode  int               `json:"status_code"`
	Body        []byte            `json:"body"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	FetchedAt   time.Time         `json:"fetched_at"`
}

// Fetcher performs rate-limited, cached HTTP fetches against upstream
// sources. The shared sliding-window limit lives in Redis so all instances
// respect it; request spacing is instance-local.
type Fetcher struct {
	client *httpclient.Client
	cache  *redis.Cache
	limits *ratelimit.Manager
	logger ectologger.Logger

	configs map[models.SourcePlatform]SourceConfig

	mu          sync.Mutex
	lastRequest map[models.SourcePlatform]time.Time
}

func New(client *httpclient.Client, cache *redis.Cache, limits *ratelimit.Manager, configs map[models.SourcePlatform]SourceConfig, logger ectologger.Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		cache:       cache,
		limits:      limits,
		logger:      logger,
		configs:     configs,
		lastRequest: make(map[models.SourcePlatform]time.Time),
	}
}

// Request describes one upstream fetch
type Request struct {
	Source  models.SourcePlatform
	URL     string
	Headers map[string]string

	// SkipCache bypasses the response cache for both read and write
	SkipCache bool

	// CacheTTL overrides the source's default TTL when > 0
	CacheTTL time.Duration
}

// Fetch performs a GET against the source, honoring the response cache, the
// shared rate limit, and instance-local request spacing. A 429 blocks the
// source for the (capped) Retry-After and is retried once internally.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*CachedResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "Fetcher.Fetch")
	defer span.End()

	cfg := f.configs[req.Source]
	cacheKey := f.cacheKey(req)

	if !req.SkipCache && f.cache != nil {
		var cached CachedResponse
		err := f.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil {
			metrics.RecordFetchCache(string(req.Source), "hit")
			f.logger.WithContext(ctx).Debugf("Fetch cache hit: %s", req.URL)
			return &cached, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			f.logger.WithContext(ctx).WithError(err).Warnf("Fetch cache read failed for %s", req.URL)
		}
		metrics.RecordFetchCache(string(req.Source), "miss")
	}

	resp, err := f.doFetch(ctx, req, cfg)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && fe.StatusCode == http.StatusTooManyRequests {
			// Blocked upstream. Wait out the block once, then retry.
			wait := fe.RetryAfter
			if wait <= 0 || wait > cfg.RetryAfterCap {
				wait = cfg.RetryAfterCap
			}
			f.logger.WithContext(ctx).Warnf("Upstream %s throttled, retrying after %v", req.Source, wait)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}

			resp, err = f.doFetch(ctx, req, cfg)
		}
		if err != nil {
			return nil, err
		}
	}

	if !req.SkipCache && f.cache != nil {
		ttl := cfg.CacheTTL
		if req.CacheTTL > 0 {
			ttl = req.CacheTTL
		}
		if cacheErr := f.cache.SetJSONWithTTL(ctx, cacheKey, resp, ttl); cacheErr != nil {
			f.logger.WithContext(ctx).WithError(cacheErr).Warnf("Fetch cache write failed for %s", req.URL)
		}
	}

	return resp, nil
}

func (f *Fetcher) doFetch(ctx context.Context, req Request, cfg SourceConfig) (*CachedResponse, error) {
	// Shared sliding-window limit across instances
	if f.limits != nil && len(cfg.Limits) > 0 {
		maxWait := cfg.MaxWait
		if maxWait <= 0 {
			maxWait = time.Minute
		}
		if err := f.limits.WaitForLimit(ctx, string(req.Source), req.URL, cfg.Limits, maxWait); err != nil {
			return nil, err
		}
	}

	// Instance-local request spacing
	if err := f.waitForSpacing(ctx, req.Source, cfg.RequestDelay); err != nil {
		return nil, err
	}

	resp, err := f.client.Get(ctx, req.URL, req.Headers)
	if err != nil {
		return nil, err
	}

	metrics.RecordHTTPRequest(string(req.Source), strconv.Itoa(resp.StatusCode), resp.Duration.Seconds())

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := f.handleThrottle(ctx, req.Source, cfg, resp.Headers)
		return nil, &FetchError{
			Source:     req.Source,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			Source:     req.Source,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
		}
	}

	return &CachedResponse{
		StatusCode:  resp.StatusCode,
		Body:        resp.Body,
		ContentType: resp.ContentType,
		Headers:     resp.Headers,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// handleThrottle records a 429 and blocks the source's rate limit for the
// capped Retry-After duration so other workers back off too.
func (f *Fetcher) handleThrottle(ctx context.Context, source models.SourcePlatform, cfg SourceConfig, headers map[string]string) time.Duration {
	retryAfter := cfg.RetryAfterCap

	if value, ok := headers["Retry-After"]; ok {
		if parsed, err := ratelimit.ParseRetryAfter(value); err == nil && parsed > 0 {
			retryAfter = parsed
			if cfg.RetryAfterCap > 0 && retryAfter > cfg.RetryAfterCap {
				retryAfter = cfg.RetryAfterCap
			}
		}
	}

	for _, limit := range cfg.Limits {
		metrics.RecordRateLimitHit(string(source), limit.Name)
		if f.limits != nil {
			if err := f.limits.Block(ctx, string(source), limit.Name, retryAfter); err != nil {
				f.logger.WithContext(ctx).WithError(err).Warnf("Failed to block rate limit %s", limit.Name)
			}
		}
	}

	return retryAfter
}

func (f *Fetcher) waitForSpacing(ctx context.Context, source models.SourcePlatform, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	f.mu.Lock()
	last := f.lastRequest[source]
	now := time.Now()
	wait := delay - now.Sub(last)
	if wait < 0 {
		wait = 0
	}
	f.lastRequest[source] = now.Add(wait)
	f.mu.Unlock()

	if wait == 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (f *Fetcher) cacheKey(req Request) string {
	sum := sha256.Sum256([]byte(req.URL))
	return fmt.Sprintf("%s:%s", req.Source, hex.EncodeToString(sum[:16]))
}

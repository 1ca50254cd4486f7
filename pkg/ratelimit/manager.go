package ratelimit

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/jzhao23/social-reading-discovery/pkg/redis"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

// Limit is one sliding-window rate limit for an upstream source. Endpoint is
// an optional regex; an empty Endpoint matches every URL for the source.
type Limit struct {
	Name     string
	Requests int
	Window   time.Duration
	Endpoint string
}

// Manager handles rate limiting for upstream API requests, keyed by source
// platform (twitter, goodreads).
type Manager struct {
	limiter *redis.RateLimiter
	logger  ectologger.Logger

	// Cache compiled regexes for endpoint matching
	regexCache map[string]*regexp.Regexp
	regexMu    sync.RWMutex
}

// NewManager creates a new rate limit manager
func NewManager(redisClient *redis.Client, logger ectologger.Logger) *Manager {
	return &Manager{
		limiter:    redis.NewRateLimiter(redisClient, "reading:ratelimit:"),
		logger:     logger,
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// CheckResult represents the result of a rate limit check
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration
	LimitName  string
	Remaining  int64
}

// Check checks if a request to the given source URL is allowed under all
// applicable limits.
func (m *Manager) Check(ctx context.Context, source string, url string, limits []Limit) (*CheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "RateLimitManager.Check")
	defer span.End()

	matching := m.findMatchingLimits(url, limits)
	if len(matching) == 0 {
		return &CheckResult{Allowed: true}, nil
	}

	for _, limit := range matching {
		key := buildKey(source, limit.Name)

		// Dynamic block (e.g. Retry-After) takes precedence over the sliding window.
		if blocked, ttl, err := m.limiter.IsBlocked(ctx, key); err == nil && blocked {
			return &CheckResult{
				Allowed:    false,
				RetryAfter: ttl,
				LimitName:  limit.Name,
				Remaining:  0,
			}, nil
		}

		result, err := m.limiter.Allow(ctx, key, int64(limit.Requests), limit.Window)
		if err != nil {
			m.logger.WithContext(ctx).WithError(err).Errorf("Rate limit check failed for %s", limit.Name)
			// On error, allow the request (fail open)
			continue
		}

		if !result.Allowed {
			m.logger.WithContext(ctx).Warnf("Rate limit exceeded for %s: retry in %v", limit.Name, result.RetryIn)
			return &CheckResult{
				Allowed:    false,
				RetryAfter: result.RetryIn,
				LimitName:  limit.Name,
				Remaining:  0,
			}, nil
		}

		m.logger.WithContext(ctx).Debugf("Rate limit %s: %d remaining", limit.Name, result.Remaining)
	}

	return &CheckResult{Allowed: true}, nil
}

// WaitForLimit waits until the rate limit allows the request.
// Returns an error if the context is cancelled or maxWait would be exceeded.
func (m *Manager) WaitForLimit(ctx context.Context, source string, url string, limits []Limit, maxWait time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "RateLimitManager.WaitForLimit")
	defer span.End()

	deadline := time.Now().Add(maxWait)

	for {
		result, err := m.Check(ctx, source, url, limits)
		if err != nil {
			return err
		}

		if result.Allowed {
			return nil
		}

		retryAfter := result.RetryAfter
		if retryAfter <= 0 {
			retryAfter = 100 * time.Millisecond
		}

		if time.Now().Add(retryAfter).After(deadline) {
			return fmt.Errorf("%w: %s would exceed max wait time of %v", redis.ErrRateLimitExceeded, result.LimitName, maxWait)
		}

		m.logger.WithContext(ctx).Infof("Rate limited by %s, waiting %v", result.LimitName, retryAfter)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
			// Continue and check again
		}
	}
}

// Block blocks all requests under the named limit for the given duration.
// Used when the upstream returns 429 with a Retry-After.
func (m *Manager) Block(ctx context.Context, source string, limitName string, d time.Duration) error {
	return m.limiter.BlockFor(ctx, buildKey(source, limitName), d)
}

// Reset resets a rate limit bucket
func (m *Manager) Reset(ctx context.Context, source string, limitName string) error {
	return m.limiter.Reset(ctx, buildKey(source, limitName))
}

// GetRemaining returns the remaining requests for a rate limit
func (m *Manager) GetRemaining(ctx context.Context, source string, limit Limit) (int64, error) {
	return m.limiter.GetRemaining(ctx, buildKey(source, limit.Name), int64(limit.Requests), limit.Window)
}

// ParseRetryAfter parses a Retry-After header value.
// Returns the duration to wait before retrying.
func ParseRetryAfter(value string) (time.Duration, error) {
	// Try parsing as seconds
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	// Try parsing as HTTP date (RFC 1123)
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(t), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}

// findMatchingLimits returns rate limits that match the given URL
func (m *Manager) findMatchingLimits(url string, limits []Limit) []Limit {
	var matching []Limit

	for _, limit := range limits {
		if limit.Endpoint == "" {
			// No endpoint pattern means it matches all
			matching = append(matching, limit)
			continue
		}

		re := m.getOrCompileRegex(limit.Endpoint)
		if re != nil && re.MatchString(url) {
			matching = append(matching, limit)
		}
	}

	return matching
}

// getOrCompileRegex gets a cached regex or compiles and caches a new one
func (m *Manager) getOrCompileRegex(pattern string) *regexp.Regexp {
	m.regexMu.RLock()
	if re, ok := m.regexCache[pattern]; ok {
		m.regexMu.RUnlock()
		return re
	}
	m.regexMu.RUnlock()

	m.regexMu.Lock()
	defer m.regexMu.Unlock()

	// Double check after acquiring write lock
	if re, ok := m.regexCache[pattern]; ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		m.logger.Errorf("Failed to compile rate limit regex pattern %s: %v", pattern, err)
		return nil
	}

	m.regexCache[pattern] = re
	return re
}

func buildKey(source, limitName string) string {
	return fmt.Sprintf("%s:%s", source, limitName)
}

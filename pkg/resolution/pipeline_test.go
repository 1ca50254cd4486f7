package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

type fakeCache struct {
	entry     *models.ResolutionCacheEntry
	getErr    error
	upserted  []*models.ResolutionCacheEntry
	upsertErr error
}

func (f *fakeCache) GetBySource(ctx context.Context, platform models.SourcePlatform, sourceUserID string) (*models.ResolutionCacheEntry, error) {
	return f.entry, f.getErr
}

func (f *fakeCache) Upsert(ctx context.Context, entry *models.ResolutionCacheEntry) error {
	f.upserted = append(f.upserted, entry)
	return f.upsertErr
}

type stubMatcher struct {
	method   models.ResolutionMethod
	match    *Match
	err      error
	attempts int
}

func (s *stubMatcher) Method() models.ResolutionMethod { return s.method }

func (s *stubMatcher) Attempt(ctx context.Context, profile *models.SourceProfile) (*Match, error) {
	s.attempts++
	return s.match, s.err
}

func TestPipelineFirstHitWins(t *testing.T) {
	first := &stubMatcher{
		method: models.MethodLinkedURL,
		match:  &Match{GoodreadsUserID: "4821", Confidence: LinkedURLConfidence, Method: models.MethodLinkedURL},
	}
	second := &stubMatcher{method: models.MethodEmail}
	cache := &fakeCache{}

	p := NewPipeline([]Matcher{first, second}, cache, 30*24*time.Hour, testLogger())

	match, err := p.Resolve(context.Background(), &models.SourceProfile{
		Platform: models.PlatformTwitter,
		UserID:   "tw-1",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "4821", match.GoodreadsUserID)
	assert.Equal(t, 1, first.attempts)
	assert.Equal(t, 0, second.attempts, "later tiers should not run after a hit")

	require.Len(t, cache.upserted, 1)
	assert.Equal(t, "4821", cache.upserted[0].GoodreadsUserID)
	assert.Equal(t, models.MethodLinkedURL, cache.upserted[0].Method)
}

func TestPipelineCacheHitSkipsMatchers(t *testing.T) {
	matcher := &stubMatcher{method: models.MethodLinkedURL}
	cache := &fakeCache{
		entry: &models.ResolutionCacheEntry{
			GoodreadsUserID: "99",
			Confidence:      EmailConfidence,
			Method:          models.MethodEmail,
			LastVerifiedAt:  time.Now().UTC().Add(-time.Hour),
		},
	}

	p := NewPipeline([]Matcher{matcher}, cache, 30*24*time.Hour, testLogger())

	match, err := p.Resolve(context.Background(), &models.SourceProfile{
		Platform: models.PlatformTwitter,
		UserID:   "tw-1",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "99", match.GoodreadsUserID)
	assert.Equal(t, models.MethodEmail, match.Method)
	assert.Equal(t, 0, matcher.attempts)
}

func TestPipelineStaleCacheReResolves(t *testing.T) {
	matcher := &stubMatcher{
		method: models.MethodUsername,
		match:  &Match{GoodreadsUserID: "314", Confidence: UsernameConfidence, Method: models.MethodUsername},
	}
	cache := &fakeCache{
		entry: &models.ResolutionCacheEntry{
			GoodreadsUserID: "99",
			LastVerifiedAt:  time.Now().UTC().Add(-31 * 24 * time.Hour),
		},
	}

	p := NewPipeline([]Matcher{matcher}, cache, 30*24*time.Hour, testLogger())

	match, err := p.Resolve(context.Background(), &models.SourceProfile{
		Platform: models.PlatformTwitter,
		UserID:   "tw-1",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "314", match.GoodreadsUserID)
	assert.Equal(t, 1, matcher.attempts)
}

func TestPipelineNoMatch(t *testing.T) {
	matcher := &stubMatcher{method: models.MethodFuzzyName}
	cache := &fakeCache{}

	p := NewPipeline([]Matcher{matcher}, cache, 30*24*time.Hour, testLogger())

	match, err := p.Resolve(context.Background(), &models.SourceProfile{
		Platform: models.PlatformTwitter,
		UserID:   "tw-1",
	})
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.Empty(t, cache.upserted, "unmatched profiles are never cached")
}

func TestPipelineMatcherErrorFallsThrough(t *testing.T) {
	failing := &stubMatcher{method: models.MethodEmail, err: assert.AnError}
	succeeding := &stubMatcher{
		method: models.MethodUsername,
		match:  &Match{GoodreadsUserID: "5", Confidence: UsernameConfidence, Method: models.MethodUsername},
	}
	cache := &fakeCache{}

	p := NewPipeline([]Matcher{failing, succeeding}, cache, 30*24*time.Hour, testLogger())

	match, err := p.Resolve(context.Background(), &models.SourceProfile{
		Platform: models.PlatformTwitter,
		UserID:   "tw-1",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "5", match.GoodreadsUserID)
}

func TestPipelineCacheWriteFailureDoesNotFailResolve(t *testing.T) {
	matcher := &stubMatcher{
		method: models.MethodLinkedURL,
		match:  &Match{GoodreadsUserID: "4821", Confidence: LinkedURLConfidence, Method: models.MethodLinkedURL},
	}
	cache := &fakeCache{upsertErr: assert.AnError}

	p := NewPipeline([]Matcher{matcher}, cache, 30*24*time.Hour, testLogger())

	match, err := p.Resolve(context.Background(), &models.SourceProfile{
		Platform: models.PlatformTwitter,
		UserID:   "tw-1",
	})
	require.NoError(t, err)
	require.NotNil(t, match)
}

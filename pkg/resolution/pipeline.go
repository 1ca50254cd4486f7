package resolution

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/jzhao23/social-reading-discovery/pkg/metrics"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

// CacheStore persists prior resolution outcomes keyed by source identity
type CacheStore interface {
	// GetBySource returns nil when no entry exists
	GetBySource(ctx context.Context, platform models.SourcePlatform, sourceUserID string) (*models.ResolutionCacheEntry, error)
	Upsert(ctx context.Context, entry *models.ResolutionCacheEntry) error
}

// Pipeline runs the matcher chain in confidence order, consulting the
// resolution cache first. Stale cache entries are re-resolved. Unmatched
// profiles are never cached so later manual linking stays possible.
type Pipeline struct {
	matchers []Matcher
	cache    CacheStore
	validity time.Duration
	logger   ectologger.Logger
}

func NewPipeline(matchers []Matcher, cache CacheStore, validity time.Duration, logger ectologger.Logger) *Pipeline {
	return &Pipeline{
		matchers: matchers,
		cache:    cache,
		validity: validity,
		logger:   logger,
	}
}

// DefaultMatchers builds the standard matcher chain
func DefaultMatchers(platform ReadingPlatform, logger ectologger.Logger) []Matcher {
	return []Matcher{
		NewLinkedURLMatcher(),
		NewEmailMatcher(platform, logger),
		NewFuzzyNameMatcher(platform, logger),
		NewUsernameMatcher(platform, logger),
	}
}

// Resolve maps a source profile to a reading-platform identity. Returns nil
// when no matcher succeeds; the connection then awaits manual linking.
func (p *Pipeline) Resolve(ctx context.Context, profile *models.SourceProfile) (*Match, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Pipeline.Resolve")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"source_platform": profile.Platform,
		"source_user_id":  profile.UserID,
	})

	if cached := p.checkCache(ctx, profile); cached != nil {
		metrics.RecordResolutionCache("hit")
		return cached, nil
	}
	metrics.RecordResolutionCache("miss")

	for _, matcher := range p.matchers {
		match, err := matcher.Attempt(ctx, profile)
		if err != nil {
			log.WithError(err).WithField("method", string(matcher.Method())).Warn("matcher failed, trying next")
			continue
		}
		if match == nil {
			continue
		}

		log.WithFields(map[string]any{
			"method":            string(match.Method),
			"confidence":        match.Confidence,
			"goodreads_user_id": match.GoodreadsUserID,
		}).Info("resolved source profile")

		metrics.RecordResolution(string(match.Method), "matched")
		p.saveToCache(ctx, profile, match)
		return match, nil
	}

	log.Info("no matcher resolved source profile")
	metrics.RecordResolution("none", "unmatched")
	return nil, nil
}

func (p *Pipeline) checkCache(ctx context.Context, profile *models.SourceProfile) *Match {
	entry, err := p.cache.GetBySource(ctx, profile.Platform, profile.UserID)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("resolution cache lookup failed")
		return nil
	}
	if entry == nil || !entry.IsValid(p.validity, time.Now().UTC()) {
		return nil
	}
	return &Match{
		GoodreadsUserID: entry.GoodreadsUserID,
		Confidence:      entry.Confidence,
		Method:          entry.Method,
	}
}

// saveToCache is best effort; a cache write failure never fails resolution
func (p *Pipeline) saveToCache(ctx context.Context, profile *models.SourceProfile, match *Match) {
	entry := &models.ResolutionCacheEntry{
		ID:              uuid.NewString(),
		SourcePlatform:  profile.Platform,
		SourceUserID:    profile.UserID,
		GoodreadsUserID: match.GoodreadsUserID,
		Confidence:      match.Confidence,
		Method:          match.Method,
		LastVerifiedAt:  time.Now().UTC(),
	}
	if err := p.cache.Upsert(ctx, entry); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("failed to persist resolution cache entry")
	}
}

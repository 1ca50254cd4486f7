// Package resolution maps social-platform profiles to reading-platform
// identities through an ordered chain of matchers.
package resolution

import (
	"context"
	"regexp"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/jzhao23/social-reading-discovery/pkg/goodreads"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/normalizers"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

// Confidence levels per matcher. Fuzzy matching scores within
// [FuzzyBaseConfidence, FuzzyMaxConfidence].
const (
	LinkedURLConfidence  = 0.95
	EmailConfidence      = 0.90
	UsernameConfidence   = 0.60
	FuzzyBaseConfidence  = 0.40
	FuzzyMaxConfidence   = 0.70
	ManualConfidence     = 1.00
)

// Match is a successful mapping to a reading-platform user
type Match struct {
	GoodreadsUserID string
	Confidence      float64
	Method          models.ResolutionMethod
}

// Matcher attempts one resolution strategy against a source profile.
// A nil match with a nil error means the strategy did not apply.
type Matcher interface {
	Method() models.ResolutionMethod
	Attempt(ctx context.Context, profile *models.SourceProfile) (*Match, error)
}

// ReadingPlatform is the subset of the goodreads client the matchers use
type ReadingPlatform interface {
	SearchUsers(ctx context.Context, query string) ([]models.ReadingProfile, error)
	CheckHandleResolves(ctx context.Context, handle string) (*goodreads.HandleResult, error)
}

var (
	profileURLRe = regexp.MustCompile(`goodreads\.com/user/show/(\d+)`)
	authorURLRe  = regexp.MustCompile(`goodreads\.com/author/show/(\d+)`)
	bioURLRe     = regexp.MustCompile(`goodreads\.com/(user/show/\d+|author/show/\d+|[a-zA-Z0-9_-]+)`)
)

// LinkedURLMatcher looks for a reading-platform profile URL among the
// profile's linked URLs and any URLs mentioned in the bio text.
type LinkedURLMatcher struct{}

func NewLinkedURLMatcher() *LinkedURLMatcher {
	return &LinkedURLMatcher{}
}

func (m *LinkedURLMatcher) Method() models.ResolutionMethod {
	return models.MethodLinkedURL
}

func (m *LinkedURLMatcher) Attempt(ctx context.Context, profile *models.SourceProfile) (*Match, error) {
	_, span := tracing.StartSpan(ctx, "resolution.LinkedURLMatcher.Attempt")
	defer span.End()

	urls := make([]string, 0, len(profile.LinkedURLs)+1)
	urls = append(urls, profile.LinkedURLs...)
	for _, mention := range bioURLRe.FindAllString(profile.Bio, -1) {
		urls = append(urls, "https://www."+mention)
	}

	for _, candidate := range urls {
		if match := profileURLRe.FindStringSubmatch(candidate); match != nil {
			return &Match{
				GoodreadsUserID: match[1],
				Confidence:      LinkedURLConfidence,
				Method:          models.MethodLinkedURL,
			}, nil
		}
		if match := authorURLRe.FindStringSubmatch(candidate); match != nil {
			return &Match{
				GoodreadsUserID: match[1],
				Confidence:      LinkedURLConfidence,
				Method:          models.MethodLinkedURL,
			}, nil
		}
	}

	return nil, nil
}

// EmailMatcher searches the reading platform by email address. Only an
// unambiguous single result counts as a match.
type EmailMatcher struct {
	platform ReadingPlatform
	logger   ectologger.Logger
}

func NewEmailMatcher(platform ReadingPlatform, logger ectologger.Logger) *EmailMatcher {
	return &EmailMatcher{platform: platform, logger: logger}
}

func (m *EmailMatcher) Method() models.ResolutionMethod {
	return models.MethodEmail
}

func (m *EmailMatcher) Attempt(ctx context.Context, profile *models.SourceProfile) (*Match, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.EmailMatcher.Attempt")
	defer span.End()

	email := normalizers.NormalizeEmail(profile.Email)
	if email == "" {
		return nil, nil
	}

	results, err := m.platform.SearchUsers(ctx, email)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("email search failed, skipping matcher")
		return nil, nil
	}

	if len(results) != 1 {
		return nil, nil
	}

	return &Match{
		GoodreadsUserID: results[0].UserID,
		Confidence:      EmailConfidence,
		Method:          models.MethodEmail,
	}, nil
}

// FuzzyNameMatcher searches by display name and scores candidates on name
// similarity, location overlap, and reading-related bio signals. The best
// candidate wins when it clears the base confidence floor.
type FuzzyNameMatcher struct {
	platform ReadingPlatform
	logger   ectologger.Logger
}

func NewFuzzyNameMatcher(platform ReadingPlatform, logger ectologger.Logger) *FuzzyNameMatcher {
	return &FuzzyNameMatcher{platform: platform, logger: logger}
}

func (m *FuzzyNameMatcher) Method() models.ResolutionMethod {
	return models.MethodFuzzyName
}

func (m *FuzzyNameMatcher) Attempt(ctx context.Context, profile *models.SourceProfile) (*Match, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.FuzzyNameMatcher.Attempt")
	defer span.End()

	normalized := normalizers.NormalizeName(profile.DisplayName)
	if len(normalized) < 2 {
		return nil, nil
	}

	results, err := m.platform.SearchUsers(ctx, profile.DisplayName)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("name search failed, skipping matcher")
		return nil, nil
	}

	var best *models.ReadingProfile
	bestScore := 0.0
	for i := range results {
		score := m.score(normalized, profile, &results[i])
		if score > bestScore {
			best = &results[i]
			bestScore = score
		}
	}

	if best == nil || bestScore < FuzzyBaseConfidence {
		return nil, nil
	}

	return &Match{
		GoodreadsUserID: best.UserID,
		Confidence:      bestScore,
		Method:          models.MethodFuzzyName,
	}, nil
}

func (m *FuzzyNameMatcher) score(normalized string, profile *models.SourceProfile, candidate *models.ReadingProfile) float64 {
	candidateName := normalizers.NormalizeName(candidate.Name)
	if len(candidateName) < 2 {
		return 0
	}

	score := FuzzyBaseConfidence

	if candidateName == normalized {
		score += 0.2
	} else if strings.Contains(candidateName, normalized) || strings.Contains(normalized, candidateName) {
		score += 0.1
	}

	if profile.Location != "" && candidate.Location != "" {
		sourceLoc := normalizers.NormalizeLocation(profile.Location)
		candidateLoc := normalizers.NormalizeLocation(candidate.Location)
		if sourceLoc != "" && (strings.Contains(candidateLoc, sourceLoc) || strings.Contains(sourceLoc, candidateLoc)) {
			score += 0.1
		}
	}

	bio := strings.ToLower(profile.Bio)
	if strings.Contains(bio, "book") || strings.Contains(bio, "read") || strings.Contains(bio, "author") {
		score += 0.05
	}

	if score > FuzzyMaxConfidence {
		score = FuzzyMaxConfidence
	}
	return score
}

// UsernameMatcher probes whether the source handle doubles as a
// reading-platform vanity URL.
type UsernameMatcher struct {
	platform ReadingPlatform
	logger   ectologger.Logger
}

func NewUsernameMatcher(platform ReadingPlatform, logger ectologger.Logger) *UsernameMatcher {
	return &UsernameMatcher{platform: platform, logger: logger}
}

func (m *UsernameMatcher) Method() models.ResolutionMethod {
	return models.MethodUsername
}

func (m *UsernameMatcher) Attempt(ctx context.Context, profile *models.SourceProfile) (*Match, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.UsernameMatcher.Attempt")
	defer span.End()

	handle := normalizers.NormalizeHandle(profile.Handle)
	if len(handle) < 2 {
		return nil, nil
	}

	result, err := m.platform.CheckHandleResolves(ctx, handle)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("handle probe failed, skipping matcher")
		return nil, nil
	}

	if result == nil || !result.Exists || result.UserID == "" {
		return nil, nil
	}

	return &Match{
		GoodreadsUserID: result.UserID,
		Confidence:      UsernameConfidence,
		Method:          models.MethodUsername,
	}, nil
}

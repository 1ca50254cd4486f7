package resolution

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/goodreads"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

type fakePlatform struct {
	searchResults []models.ReadingProfile
	searchErr     error
	handleResult  *goodreads.HandleResult
	handleErr     error
	searchQueries []string
}

func (f *fakePlatform) SearchUsers(ctx context.Context, query string) ([]models.ReadingProfile, error) {
	f.searchQueries = append(f.searchQueries, query)
	return f.searchResults, f.searchErr
}

func (f *fakePlatform) CheckHandleResolves(ctx context.Context, handle string) (*goodreads.HandleResult, error) {
	return f.handleResult, f.handleErr
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestLinkedURLMatcher(t *testing.T) {
	m := NewLinkedURLMatcher()
	ctx := context.Background()

	t.Run("ProfileURLInLinks", func(t *testing.T) {
		match, err := m.Attempt(ctx, &models.SourceProfile{
			LinkedURLs: []string{"https://www.goodreads.com/user/show/4821-jane"},
		})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "4821", match.GoodreadsUserID)
		assert.Equal(t, LinkedURLConfidence, match.Confidence)
		assert.Equal(t, models.MethodLinkedURL, match.Method)
	})

	t.Run("AuthorURLInLinks", func(t *testing.T) {
		match, err := m.Attempt(ctx, &models.SourceProfile{
			LinkedURLs: []string{"https://www.goodreads.com/author/show/615"},
		})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "615", match.GoodreadsUserID)
	})

	t.Run("URLMentionedInBio", func(t *testing.T) {
		match, err := m.Attempt(ctx, &models.SourceProfile{
			Bio: "bookworm | goodreads.com/user/show/4821 | she/her",
		})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "4821", match.GoodreadsUserID)
		assert.Equal(t, LinkedURLConfidence, match.Confidence)
	})

	t.Run("NoLinks", func(t *testing.T) {
		match, err := m.Attempt(ctx, &models.SourceProfile{
			Bio:        "just a person",
			LinkedURLs: []string{"https://example.com"},
		})
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("VanityMentionDoesNotMatch", func(t *testing.T) {
		// Vanity paths carry no numeric ID; the username matcher handles them.
		match, err := m.Attempt(ctx, &models.SourceProfile{
			Bio: "find me at goodreads.com/janereads",
		})
		require.NoError(t, err)
		assert.Nil(t, match)
	})
}

func TestEmailMatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("ExactlyOneResult", func(t *testing.T) {
		platform := &fakePlatform{
			searchResults: []models.ReadingProfile{{UserID: "99", Name: "Jane"}},
		}
		m := NewEmailMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{Email: "Jane@Example.com "})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "99", match.GoodreadsUserID)
		assert.Equal(t, EmailConfidence, match.Confidence)
		assert.Equal(t, []string{"jane@example.com"}, platform.searchQueries)
	})

	t.Run("MultipleResultsAreAmbiguous", func(t *testing.T) {
		platform := &fakePlatform{
			searchResults: []models.ReadingProfile{{UserID: "1"}, {UserID: "2"}},
		}
		m := NewEmailMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{Email: "jane@example.com"})
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("NoEmail", func(t *testing.T) {
		platform := &fakePlatform{}
		m := NewEmailMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{})
		require.NoError(t, err)
		assert.Nil(t, match)
		assert.Empty(t, platform.searchQueries)
	})

	t.Run("SearchErrorIsAbsorbed", func(t *testing.T) {
		platform := &fakePlatform{searchErr: errors.New("upstream down")}
		m := NewEmailMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{Email: "jane@example.com"})
		require.NoError(t, err)
		assert.Nil(t, match)
	})
}

func TestFuzzyNameMatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("ExactNameMatch", func(t *testing.T) {
		platform := &fakePlatform{
			searchResults: []models.ReadingProfile{{UserID: "7", Name: "Jane Smith"}},
		}
		m := NewFuzzyNameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{DisplayName: "Jane Smith"})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "7", match.GoodreadsUserID)
		assert.InDelta(t, 0.60, match.Confidence, 0.001)
		assert.Equal(t, models.MethodFuzzyName, match.Method)
	})

	t.Run("AllSignalsCapAtMax", func(t *testing.T) {
		platform := &fakePlatform{
			searchResults: []models.ReadingProfile{
				{UserID: "7", Name: "Jane Smith", Location: "Portland, OR"},
			},
		}
		m := NewFuzzyNameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{
			DisplayName: "Jane Smith",
			Location:    "Portland",
			Bio:         "I read everything",
		})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.InDelta(t, FuzzyMaxConfidence, match.Confidence, 0.001)
	})

	t.Run("BestCandidateWins", func(t *testing.T) {
		platform := &fakePlatform{
			searchResults: []models.ReadingProfile{
				{UserID: "1", Name: "Janet Smithson"},
				{UserID: "2", Name: "Jane Smith"},
			},
		}
		m := NewFuzzyNameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{DisplayName: "Jane Smith"})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "2", match.GoodreadsUserID)
	})

	t.Run("ShortNameSkipped", func(t *testing.T) {
		platform := &fakePlatform{}
		m := NewFuzzyNameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{DisplayName: "J"})
		require.NoError(t, err)
		assert.Nil(t, match)
		assert.Empty(t, platform.searchQueries)
	})
}

func TestUsernameMatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("HandleResolves", func(t *testing.T) {
		platform := &fakePlatform{
			handleResult: &goodreads.HandleResult{Exists: true, UserID: "314"},
		}
		m := NewUsernameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{Handle: "@janereads"})
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "314", match.GoodreadsUserID)
		assert.Equal(t, UsernameConfidence, match.Confidence)
	})

	t.Run("HandleDoesNotResolve", func(t *testing.T) {
		platform := &fakePlatform{
			handleResult: &goodreads.HandleResult{Exists: false},
		}
		m := NewUsernameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{Handle: "janereads"})
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("ProbeErrorIsAbsorbed", func(t *testing.T) {
		platform := &fakePlatform{handleErr: errors.New("timeout")}
		m := NewUsernameMatcher(platform, testLogger())

		match, err := m.Attempt(ctx, &models.SourceProfile{Handle: "janereads"})
		require.NoError(t, err)
		assert.Nil(t, match)
	})
}

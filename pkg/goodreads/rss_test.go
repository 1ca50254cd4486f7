package goodreads

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

const updatesFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <item>
    <title>Jane is currently reading 'The Hobbit'</title>
    <link>https://www.goodreads.com/book/show/12345-the-hobbit</link>
    <description></description>
    <pubDate>Mon, 01 Apr 2024 10:00:00 -0700</pubDate>
  </item>
  <item>
    <title>Jane finished reading 'Dune'</title>
    <link>https://www.goodreads.com/book/show/67890</link>
    <pubDate>Tue, 02 Apr 2024 08:30:00 -0700</pubDate>
  </item>
  <item>
    <title>Jane rated it 4 of 5 stars 'Emma'</title>
    <description>&lt;a href="https://www.goodreads.com/book/show/6969"&gt;Emma&lt;/a&gt;</description>
    <pubDate>Wed, 03 Apr 2024 12:00:00 -0700</pubDate>
  </item>
  <item>
    <title>Jane reviewed 'Persuasion'</title>
    <description>&lt;a href="https://www.goodreads.com/book/show/2156"&gt;cover&lt;/a&gt; &lt;b&gt;Loved&lt;/b&gt; every page of this one.</description>
    <pubDate>Thu, 04 Apr 2024 09:15:00 -0700</pubDate>
  </item>
  <item>
    <title>Jane added 'Middlemarch'</title>
    <link>https://www.goodreads.com/book/show/19089</link>
    <pubDate>Fri, 05 Apr 2024 18:45:00 -0700</pubDate>
  </item>
  <item>
    <title>Jane is now friends with Sam</title>
    <link>https://www.goodreads.com/user/show/777</link>
    <pubDate>Sat, 06 Apr 2024 11:00:00 -0700</pubDate>
  </item>
</channel>
</rss>`

func TestFetchRecentActivity(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/updates_rss/123", r.URL.Path)
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(updatesFeed))
	}))

	activities, err := client.FetchRecentActivity(context.Background(), "123")
	require.NoError(t, err)
	require.Len(t, activities, 5, "non-book updates are dropped")

	assert.Equal(t, models.ActivityCurrentlyReading, activities[0].Type)
	assert.Equal(t, "12345", activities[0].Book.ID)
	assert.Equal(t, "The Hobbit", activities[0].Book.Title)
	assert.Equal(t, time.Date(2024, 4, 1, 17, 0, 0, 0, time.UTC), activities[0].ActivityDate)

	assert.Equal(t, models.ActivityRead, activities[1].Type)
	assert.Equal(t, "67890", activities[1].Book.ID)

	assert.Equal(t, models.ActivityRating, activities[2].Type)
	assert.Equal(t, 4, activities[2].Rating)
	assert.Equal(t, "6969", activities[2].Book.ID, "book id falls back to the description link")

	assert.Equal(t, models.ActivityReview, activities[3].Type)
	assert.Equal(t, "cover Loved every page of this one.", activities[3].ReviewSnippet)

	assert.Equal(t, models.ActivityShelved, activities[4].Type)
}

func TestFetchRecentActivityNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	activities, err := client.FetchRecentActivity(context.Background(), "999")
	require.NoError(t, err)
	assert.Nil(t, activities)
}

func TestReviewSnippetTruncation(t *testing.T) {
	long := strings.Repeat("word ", 100)
	snippet := reviewSnippet("<p>" + long + "</p>")
	assert.LessOrEqual(t, len(snippet), reviewSnippetLength)
	assert.True(t, strings.HasPrefix(snippet, "word word"))
}

func TestReviewSnippetTruncatesOnRuneBoundary(t *testing.T) {
	// The leading ascii rune misaligns the byte limit so it lands mid-rune
	long := "a" + strings.Repeat("日本語の感想", 20)
	snippet := reviewSnippet(long)
	assert.LessOrEqual(t, len(snippet), reviewSnippetLength)
	assert.True(t, utf8.ValidString(snippet), "snippet must not end mid-rune")
}

func TestQuotedTitle(t *testing.T) {
	assert.Equal(t, "The Hobbit", quotedTitle("Jane is currently reading 'The Hobbit'"))
	assert.Equal(t, "", quotedTitle("no quotes here"))
}

func TestParsePubDateFallback(t *testing.T) {
	before := time.Now().UTC()
	parsed := parsePubDate("garbage")
	assert.False(t, parsed.Before(before.Add(-time.Second)))
}

package goodreads

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jzhao23/social-reading-discovery/pkg/fetcher"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

const reviewSnippetLength = 300

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

var (
	htmlTagRe = regexp.MustCompile(`<[^>]*>`)
	bookLinkRe = regexp.MustCompile(`goodreads\.com/book/show/(\d+)`)
)

// FetchRecentActivity reads the user's public updates feed and classifies
// each entry by its title text. Entries without a recognizable book are
// skipped.
func (c *Client) FetchRecentActivity(ctx context.Context, userID string) ([]models.ReadingActivity, error) {
	ctx, span := tracing.StartSpan(ctx, "goodreads.Client.FetchRecentActivity")
	defer span.End()

	feedURL := fmt.Sprintf("%s/user/updates_rss/%s", c.config.BaseURL, url.PathEscape(userID))

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		Source:  models.PlatformGoodreads,
		URL:     feedURL,
		Headers: c.headers(),
	})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(resp.Body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse updates feed: %w", err)
	}

	var activities []models.ReadingActivity
	for _, item := range feed.Channel.Items {
		activity := c.classifyUpdate(item)
		if activity == nil {
			continue
		}
		activities = append(activities, *activity)
	}

	return activities, nil
}

func (c *Client) classifyUpdate(item rssItem) *models.ReadingActivity {
	title := strings.TrimSpace(item.Title)
	lower := strings.ToLower(title)

	book := extractBook(item)
	if book == nil {
		return nil
	}

	activity := models.ReadingActivity{
		Book:         *book,
		ActivityDate: parsePubDate(item.PubDate),
	}

	switch {
	case strings.Contains(lower, "is currently reading"):
		activity.Type = models.ActivityCurrentlyReading
	case strings.Contains(lower, "finished reading"):
		activity.Type = models.ActivityRead
	case ratedStarsRe.MatchString(lower):
		activity.Type = models.ActivityRating
		if m := ratedStarsRe.FindStringSubmatch(lower); m != nil {
			activity.Rating = int(m[1][0] - '0')
		}
	case strings.Contains(lower, "reviewed"):
		activity.Type = models.ActivityReview
		activity.ReviewSnippet = reviewSnippet(item.Description)
	case strings.Contains(lower, "added") || strings.Contains(lower, "shelved"):
		activity.Type = models.ActivityShelved
	default:
		return nil
	}

	return &activity
}

// extractBook pulls the book id and title out of an update entry. The title
// text carries the book name in quotes; the description carries the link.
func extractBook(item rssItem) *models.Book {
	var id string
	if m := bookLinkRe.FindStringSubmatch(item.Link); m != nil {
		id = m[1]
	} else if m := bookLinkRe.FindStringSubmatch(item.Description); m != nil {
		id = m[1]
	}
	if id == "" {
		return nil
	}

	title := quotedTitle(item.Title)
	if title == "" {
		return nil
	}

	return &models.Book{ID: id, Title: title}
}

// quotedTitle returns the text between the first pair of single quotes
func quotedTitle(title string) string {
	start := strings.Index(title, "'")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(title, "'")
	if end <= start {
		return ""
	}
	return strings.TrimSpace(title[start+1 : end])
}

func reviewSnippet(description string) string {
	text := htmlTagRe.ReplaceAllString(description, " ")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > reviewSnippetLength {
		// Truncate on a rune boundary so multi-byte text is never split
		cut := reviewSnippetLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

func parsePubDate(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

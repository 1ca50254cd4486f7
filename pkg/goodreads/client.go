// Package goodreads wraps the public reading-platform surface (profile pages,
// shelves, update feeds, people search) behind typed operations.
package goodreads

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/PuerkitoBio/goquery"

	"github.com/jzhao23/social-reading-discovery/pkg/fetcher"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

const (
	ShelfCurrentlyReading = "currently-reading"
	ShelfRead             = "read"
)

var (
	userShowRe   = regexp.MustCompile(`/user/show/(\d+)`)
	bookShowRe   = regexp.MustCompile(`/show/(\d+)`)
	ratedStarsRe = regexp.MustCompile(`rated it (\d) of 5 stars`)
	coverSizeRe  = regexp.MustCompile(`\._\w+_\.`)
)

// ratingTitles maps the star-widget title text to a numeric rating
var ratingTitles = map[string]int{
	"it was amazing":  5,
	"really liked it": 4,
	"liked it":        3,
	"it was ok":       2,
	"did not like it": 1,
}

// Config holds goodreads client settings
type Config struct {
	BaseURL string
}

// Client scrapes public reading-platform pages into domain objects
type Client struct {
	fetcher *fetcher.Fetcher
	config  Config
	logger  ectologger.Logger
}

func NewClient(f *fetcher.Fetcher, config Config, logger ectologger.Logger) *Client {
	return &Client{
		fetcher: f,
		config:  config,
		logger:  logger,
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
	}
}

// FetchProfile loads a public user profile page.
// Returns nil when the page has no recognizable profile.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*models.ReadingProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "goodreads.Client.FetchProfile")
	defer span.End()

	pageURL := fmt.Sprintf("%s/user/show/%s", c.config.BaseURL, url.PathEscape(userID))

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		Source:  models.PlatformGoodreads,
		URL:     pageURL,
		Headers: c.headers(),
	})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile page: %w", err)
	}

	name := strings.TrimSpace(doc.Find("h1.userProfileName").Text())
	if name == "" {
		name = strings.TrimSpace(doc.Find(".userInfoBoxContent .nameText").Text())
	}
	if name == "" {
		name = strings.TrimSpace(strings.TrimSuffix(doc.Find("title").Text(), " | Goodreads"))
	}
	if name == "" {
		return nil, nil
	}

	imageURL, ok := doc.Find(".userProfileImage img").Attr("src")
	if !ok {
		imageURL, _ = doc.Find(".leftAlignedProfilePicture img").Attr("src")
	}

	location := strings.TrimSpace(doc.Find(".profileInfoLine .profileInfoValue").First().Text())

	return &models.ReadingProfile{
		UserID:   userID,
		Name:     name,
		Location: location,
		ImageURL: imageURL,
	}, nil
}

// ShelfBook is one shelved book with its per-user metadata
type ShelfBook struct {
	Book      models.Book
	Rating    int
	DateAdded *time.Time
	DateRead  *time.Time
}

// FetchShelf loads a user's shelf (currently-reading, read) sorted newest
// first. Rows without a parseable title or book id are skipped.
func (c *Client) FetchShelf(ctx context.Context, userID string, shelf string) ([]ShelfBook, error) {
	ctx, span := tracing.StartSpan(ctx, "goodreads.Client.FetchShelf")
	defer span.End()

	pageURL := fmt.Sprintf("%s/review/list/%s?shelf=%s&per_page=50&sort=date_added&order=d",
		c.config.BaseURL, url.PathEscape(userID), url.QueryEscape(shelf))

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		Source:  models.PlatformGoodreads,
		URL:     pageURL,
		Headers: c.headers(),
	})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse shelf page: %w", err)
	}

	var books []ShelfBook
	doc.Find("tr.bookalike, tr.review").Each(func(_ int, row *goquery.Selection) {
		titleEl := row.Find("td.title a, td.field.title a").First()
		title := strings.TrimSpace(titleEl.Text())
		bookURL, _ := titleEl.Attr("href")

		idMatch := bookShowRe.FindStringSubmatch(bookURL)
		if title == "" || idMatch == nil {
			return
		}

		author := strings.TrimSpace(row.Find("td.author a, td.field.author a").First().Text())
		coverURL, _ := row.Find("td.cover img, td.field.cover img").Attr("src")

		ratingTitle, _ := row.Find(".staticStars, .staticStar").Attr("title")
		rating := ratingTitles[strings.ToLower(strings.TrimSpace(ratingTitle))]

		entry := ShelfBook{
			Book: models.Book{
				ID:       idMatch[1],
				Title:    title,
				Author:   author,
				CoverURL: fullSizeCover(coverURL),
			},
			Rating: rating,
		}

		if value, ok := row.Find("td.date_added span, td.field.date_added span").Attr("title"); ok {
			entry.DateAdded = parseShelfDate(value)
		}
		if value, ok := row.Find("td.date_read span, td.field.date_read span").Attr("title"); ok {
			entry.DateRead = parseShelfDate(value)
		}

		books = append(books, entry)
	})

	return books, nil
}

// SearchUsers runs a people search and returns matching profiles
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.ReadingProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "goodreads.Client.SearchUsers")
	defer span.End()

	pageURL := fmt.Sprintf("%s/search?q=%s&search_type=people", c.config.BaseURL, url.QueryEscape(query))

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		Source:  models.PlatformGoodreads,
		URL:     pageURL,
		Headers: c.headers(),
	})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var users []models.ReadingProfile
	seen := make(map[string]bool)

	doc.Find(".peopleListItem, .tableList tr").Each(func(_ int, item *goquery.Selection) {
		linkEl := item.Find("a[href*='/user/show/']").First()
		href, _ := linkEl.Attr("href")

		idMatch := userShowRe.FindStringSubmatch(href)
		if idMatch == nil {
			return
		}

		name := strings.TrimSpace(linkEl.Text())
		if name == "" {
			name = strings.TrimSpace(item.Find(".authorName").Text())
		}
		if name == "" || seen[idMatch[1]] {
			return
		}
		seen[idMatch[1]] = true

		imageURL, _ := item.Find("img").Attr("src")

		// Location shows up in the secondary info cell when present
		location := strings.TrimSpace(item.Find(".greyText").First().Text())

		users = append(users, models.ReadingProfile{
			UserID:   idMatch[1],
			Name:     name,
			Location: location,
			ImageURL: imageURL,
		})
	})

	return users, nil
}

// HandleResult is the outcome of probing a vanity-handle URL
type HandleResult struct {
	Exists bool
	UserID string
}

// CheckHandleResolves probes whether /{handle} resolves to a user profile and
// extracts the numeric id from the canonical link of the resulting page.
func (c *Client) CheckHandleResolves(ctx context.Context, handle string) (*HandleResult, error) {
	ctx, span := tracing.StartSpan(ctx, "goodreads.Client.CheckHandleResolves")
	defer span.End()

	pageURL := fmt.Sprintf("%s/%s", c.config.BaseURL, url.PathEscape(handle))

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		Source:  models.PlatformGoodreads,
		URL:     pageURL,
		Headers: c.headers(),
	})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return &HandleResult{Exists: false}, nil
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse handle page: %w", err)
	}

	canonical, _ := doc.Find("link[rel='canonical']").Attr("href")
	if canonical == "" {
		canonical, _ = doc.Find("meta[property='og:url']").Attr("content")
	}

	if idMatch := userShowRe.FindStringSubmatch(canonical); idMatch != nil {
		return &HandleResult{Exists: true, UserID: idMatch[1]}, nil
	}

	return &HandleResult{Exists: false}, nil
}

func fullSizeCover(coverURL string) string {
	if coverURL == "" {
		return ""
	}
	// Shelf pages serve thumbnail variants; strip the size infix
	return coverSizeRe.ReplaceAllString(coverURL, ".")
}

// parseShelfDate parses the "Jan 02, 2006" title attribute on shelf date cells
func parseShelfDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{"Jan 02, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

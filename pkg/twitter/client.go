// Package twitter wraps the social-platform API behind typed profile and
// following-list operations.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Gobusters/ectologger"

	"github.com/jzhao23/social-reading-discovery/pkg/fetcher"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

const userFields = "id,username,name,description,location,profile_image_url,entities,url"

// Config holds twitter client settings
type Config struct {
	BaseURL     string
	BearerToken string
	PageSize    int
}

// Client fetches profiles and following lists from the social platform
type Client struct {
	fetcher *fetcher.Fetcher
	config  Config
	logger  ectologger.Logger
}

func NewClient(f *fetcher.Fetcher, config Config, logger ectologger.Logger) *Client {
	if config.PageSize <= 0 {
		config.PageSize = 1000
	}
	return &Client{
		fetcher: f,
		config:  config,
		logger:  logger,
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.config.BearerToken,
		"User-Agent":    "reading-discovery/1.0",
	}
}

// apiUser is the wire shape of a user object
type apiUser struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	ProfileImageURL string `json:"profile_image_url"`
	URL             string `json:"url"`
	Entities        struct {
		URL struct {
			URLs []apiURL `json:"urls"`
		} `json:"url"`
		Description struct {
			URLs []apiURL `json:"urls"`
		} `json:"description"`
	} `json:"entities"`
}

type apiURL struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type followingPage struct {
	Data []apiUser `json:"data"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type userResponse struct {
	Data *apiUser `json:"data"`
}

// FetchFollowing pages through the full following list of an account.
// Pages are requested until the API stops returning a next-page token.
func (c *Client) FetchFollowing(ctx context.Context, accountID string) ([]models.SourceProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "twitter.Client.FetchFollowing")
	defer span.End()

	var profiles []models.SourceProfile
	nextToken := ""

	for {
		pageURL := fmt.Sprintf("%s/2/users/%s/following?max_results=%d&user.fields=%s",
			c.config.BaseURL, url.PathEscape(accountID), c.config.PageSize, url.QueryEscape(userFields))
		if nextToken != "" {
			pageURL += "&pagination_token=" + url.QueryEscape(nextToken)
		}

		resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
			Source:  models.PlatformTwitter,
			URL:     pageURL,
			Headers: c.headers(),
			// Following lists change between refreshes; never serve stale pages
			SkipCache: true,
		})
		if err != nil {
			return nil, err
		}

		var page followingPage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode following page: %w", err)
		}

		for _, user := range page.Data {
			profiles = append(profiles, c.toProfile(user))
		}

		c.logger.WithContext(ctx).Debugf("Fetched following page for %s: %d accounts", accountID, len(page.Data))

		if page.Meta.NextToken == "" {
			break
		}
		nextToken = page.Meta.NextToken
	}

	return profiles, nil
}

// FetchProfileByHandle looks up a single profile by handle.
// Returns nil when the handle does not exist.
func (c *Client) FetchProfileByHandle(ctx context.Context, handle string) (*models.SourceProfile, error) {
	ctx, span := tracing.StartSpan(ctx, "twitter.Client.FetchProfileByHandle")
	defer span.End()

	profileURL := fmt.Sprintf("%s/2/users/by/username/%s?user.fields=%s",
		c.config.BaseURL, url.PathEscape(handle), url.QueryEscape(userFields))

	resp, err := c.fetcher.Fetch(ctx, fetcher.Request{
		Source:  models.PlatformTwitter,
		URL:     profileURL,
		Headers: c.headers(),
	})
	if err != nil {
		if fetcher.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var body userResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	if body.Data == nil {
		return nil, nil
	}

	profile := c.toProfile(*body.Data)
	return &profile, nil
}

// toProfile maps an API user onto a SourceProfile, collecting every expanded
// URL from both the profile link and the bio entities.
func (c *Client) toProfile(user apiUser) models.SourceProfile {
	var linked []string
	for _, u := range user.Entities.URL.URLs {
		if u.ExpandedURL != "" {
			linked = append(linked, u.ExpandedURL)
		}
	}
	for _, u := range user.Entities.Description.URLs {
		if u.ExpandedURL != "" {
			linked = append(linked, u.ExpandedURL)
		}
	}
	if len(linked) == 0 && user.URL != "" {
		linked = append(linked, user.URL)
	}

	return models.SourceProfile{
		Platform:    models.PlatformTwitter,
		UserID:      user.ID,
		Handle:      user.Username,
		DisplayName: user.Name,
		Bio:         user.Description,
		Location:    user.Location,
		AvatarURL:   user.ProfileImageURL,
		ProfileURL:  "https://twitter.com/" + user.Username,
		LinkedURLs:  linked,
	}
}

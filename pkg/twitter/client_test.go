package twitter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzhao23/social-reading-discovery/pkg/fetcher"
	"github.com/jzhao23/social-reading-discovery/pkg/httpclient"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	f := fetcher.New(
		httpclient.NewClient(httpclient.DefaultConfig(), logger),
		nil, nil,
		map[models.SourcePlatform]fetcher.SourceConfig{},
		logger,
	)
	return NewClient(f, Config{BaseURL: server.URL, BearerToken: "token", PageSize: 2}, logger)
}

func TestFetchFollowingPagination(t *testing.T) {
	pages := map[string]string{
		"": `{
			"data": [
				{"id": "1", "username": "alice", "name": "Alice", "description": "books",
				 "entities": {"url": {"urls": [{"expanded_url": "https://www.goodreads.com/user/show/11"}]}}},
				{"id": "2", "username": "bob", "name": "Bob", "url": "https://t.co/short"}
			],
			"meta": {"result_count": 2, "next_token": "page2"}
		}`,
		"page2": `{
			"data": [
				{"id": "3", "username": "carol", "name": "Carol", "location": "Portland"}
			],
			"meta": {"result_count": 1}
		}`,
	}

	var requests []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "/2/users/acct-1/following", r.URL.Path)
		token := r.URL.Query().Get("pagination_token")
		requests = append(requests, token)
		fmt.Fprint(w, pages[token])
	}))

	profiles, err := client.FetchFollowing(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, []string{"", "page2"}, requests)

	assert.Equal(t, models.PlatformTwitter, profiles[0].Platform)
	assert.Equal(t, "alice", profiles[0].Handle)
	assert.Equal(t, []string{"https://www.goodreads.com/user/show/11"}, profiles[0].LinkedURLs)

	assert.Equal(t, []string{"https://t.co/short"}, profiles[1].LinkedURLs, "raw profile url is the fallback")
	assert.Equal(t, "https://twitter.com/bob", profiles[1].ProfileURL)

	assert.Equal(t, "Portland", profiles[2].Location)
}

func TestFetchProfileByHandle(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/users/by/username/alice", r.URL.Path)
		fmt.Fprint(w, `{"data": {"id": "1", "username": "alice", "name": "Alice"}}`)
	}))

	profile, err := client.FetchProfileByHandle(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "1", profile.UserID)
	assert.Equal(t, "Alice", profile.DisplayName)
}

func TestFetchProfileByHandleNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	profile, err := client.FetchProfileByHandle(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestFetchProfileByHandleEmptyData(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"title": "Not Found Error"}]}`)
	}))

	profile, err := client.FetchProfileByHandle(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

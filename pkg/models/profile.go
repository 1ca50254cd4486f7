package models

import "time"

// SourceProfile is an external identity snapshot from a social platform.
// Immutable once captured for a job run; never persisted standalone, only
// embedded in a Connection's source_* fields.
type SourceProfile struct {
	Platform    SourcePlatform `json:"platform"`
	UserID      string         `json:"user_id"`
	Handle      string         `json:"handle"`
	DisplayName string         `json:"display_name"`
	Bio         string         `json:"bio,omitempty"`
	Location    string         `json:"location,omitempty"`
	Email       string         `json:"email,omitempty"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	ProfileURL  string         `json:"profile_url,omitempty"`
	LinkedURLs  []string       `json:"linked_urls,omitempty"`
}

// ReadingProfile is a public reading-platform profile
type ReadingProfile struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Book is a book referenced by a shelf or activity
type Book struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

// ReadingActivity is one activity pulled from a reader's public history
type ReadingActivity struct {
	Type          ActivityType `json:"type"`
	Book          Book         `json:"book"`
	Rating        int          `json:"rating,omitempty"`
	ReviewSnippet string       `json:"review_snippet,omitempty"`
	ActivityDate  time.Time    `json:"activity_date"`
}

package models

import "time"

// ActivityType classifies a reading activity on the feed
type ActivityType string

const (
	ActivityCurrentlyReading ActivityType = "currently_reading"
	ActivityRead             ActivityType = "read"
	ActivityRating           ActivityType = "rating"
	ActivityReview           ActivityType = "review"
	ActivityShelved          ActivityType = "shelved"
)

// FeedItem is one reading activity surfaced to a user's feed. Append-only;
// uniqueness is enforced on the natural key (connection_id, book_id,
// activity_type, activity_date) so refetches are idempotent.
type FeedItem struct {
	ID              string       `json:"id" db:"id"`
	UserID          string       `json:"user_id" db:"user_id"`
	ConnectionID    string       `json:"connection_id" db:"connection_id"`
	GoodreadsUserID string       `json:"goodreads_user_id" db:"goodreads_user_id"`
	ActivityType    ActivityType `json:"activity_type" db:"activity_type"`
	BookID          string       `json:"book_id" db:"book_id"`
	BookTitle       string       `json:"book_title" db:"book_title"`
	BookAuthor      *string      `json:"book_author,omitempty" db:"book_author"`
	BookCoverURL    *string      `json:"book_cover_url,omitempty" db:"book_cover_url"`
	Rating          *int         `json:"rating,omitempty" db:"rating"`
	ReviewSnippet   *string      `json:"review_snippet,omitempty" db:"review_snippet"`
	ActivityDate    time.Time    `json:"activity_date" db:"activity_date"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// FeedResponse is the paged response for the feed endpoint
type FeedResponse struct {
	Items      []FeedItem `json:"items"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}

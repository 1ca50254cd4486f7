// Package feeditem persists reading activity surfaced on user feeds
package feeditem

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/jzhao23/social-reading-discovery/pkg/database"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/tracing"
)

var columns = []string{
	"id", "user_id", "connection_id", "goodreads_user_id", "activity_type",
	"book_id", "book_title", "book_author", "book_cover_url", "rating",
	"review_snippet", "activity_date", "created_at",
}

// ListFilter narrows feed listings
type ListFilter struct {
	ActivityType models.ActivityType
	ConnectionID string
	Limit        int
	Offset       int
}

// Repository handles feed item persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateBatch inserts feed items, silently skipping ones already present.
// The natural key (connection, book, activity type, date) makes activity
// sync idempotent. Returns the number of new rows.
func (r *Repository) CreateBatch(ctx context.Context, items []*models.FeedItem) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "feeditem.Repository.CreateBatch")
	defer span.End()

	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("social_feed_items")
	ib.Cols(columns...)

	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.CreatedAt = now
		ib.Values(item.ID, item.UserID, item.ConnectionID, item.GoodreadsUserID, item.ActivityType,
			item.BookID, item.BookTitle, item.BookAuthor, item.BookCoverURL, item.Rating,
			item.ReviewSnippet, item.ActivityDate, item.CreatedAt)
	}
	ib.OnConflictDoNothing("connection_id", "book_id", "activity_type", "activity_date")

	query, args := ib.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create feed items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create feed items")
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(items), "inserted": inserted}).Debug("Created feed items")
	return inserted, nil
}

// ListByUser retrieves a user's feed newest activity first
func (r *Repository) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]models.FeedItem, error) {
	ctx, span := tracing.StartSpan(ctx, "feeditem.Repository.ListByUser")
	defer span.End()

	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_feed_items")
	conds := []string{sb.Equal("user_id", userID)}
	if filter.ActivityType != "" {
		conds = append(conds, sb.Equal("activity_type", filter.ActivityType))
	}
	if filter.ConnectionID != "" {
		conds = append(conds, sb.Equal("connection_id", filter.ConnectionID))
	}
	sb.Where(conds...)
	sb.OrderBy("activity_date").Desc()
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	var items []models.FeedItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list feed items")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list feed items")
	}

	return items, nil
}

// CountByUser counts a user's feed items under the same filters as ListByUser
func (r *Repository) CountByUser(ctx context.Context, userID string, filter ListFilter) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "feeditem.Repository.CountByUser")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("social_feed_items")
	conds := []string{sb.Equal("user_id", userID)}
	if filter.ActivityType != "" {
		conds = append(conds, sb.Equal("activity_type", filter.ActivityType))
	}
	if filter.ConnectionID != "" {
		conds = append(conds, sb.Equal("connection_id", filter.ConnectionID))
	}
	sb.Where(conds...)

	query, args := sb.Build()
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count feed items")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count feed items")
	}

	return count, nil
}

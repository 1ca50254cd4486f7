// Package resolutioncache persists prior resolution outcomes so repeat
// imports and refreshes skip external lookups
package resolutioncache

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
	"id", "source_platform", "source_user_id", "goodreads_user_id",
	"confidence", "method", "last_verified_at",
}

// Repository handles resolution cache persistence
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

// GetBySource retrieves the cached resolution for a source identity.
// Returns nil when no entry exists.
func (r *Repository) GetBySource(ctx context.Context, platform models.SourcePlatform, sourceUserID string) (*models.ResolutionCacheEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "resolutioncache.Repository.GetBySource")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("resolution_cache")
	sb.Where(
		sb.Equal("source_platform", platform),
		sb.Equal("source_user_id", sourceUserID),
	)

	query, args := sb.Build()
	var entry models.ResolutionCacheEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get resolution cache entry")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get resolution cache entry")
	}

	return &entry, nil
}

// Upsert writes a resolution outcome, replacing any prior entry for the
// same source identity
func (r *Repository) Upsert(ctx context.Context, entry *models.ResolutionCacheEntry) error {
	ctx, span := tracing.StartSpan(ctx, "resolutioncache.Repository.Upsert")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.LastVerifiedAt.IsZero() {
		entry.LastVerifiedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("resolution_cache")
	ib.Cols(columns...)
	ib.Values(entry.ID, entry.SourcePlatform, entry.SourceUserID, entry.GoodreadsUserID,
		entry.Confidence, entry.Method, entry.LastVerifiedAt)
	ub := ib.OnConflict("source_platform", "source_user_id")
	ub.Set(
		ub.Assign("goodreads_user_id", database.Excluded("goodreads_user_id")),
		ub.Assign("confidence", database.Excluded("confidence")),
		ub.Assign("method", database.Excluded("method")),
		ub.Assign("last_verified_at", database.Excluded("last_verified_at")),
	)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_platform": entry.SourcePlatform,
			"source_user_id":  entry.SourceUserID,
		}).Error("Failed to upsert resolution cache entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert resolution cache entry")
	}

	return nil
}

// Delete removes a cached resolution, forcing the next resolve to re-run
// the matcher chain
func (r *Repository) Delete(ctx context.Context, platform models.SourcePlatform, sourceUserID string) error {
	ctx, span := tracing.StartSpan(ctx, "resolutioncache.Repository.Delete")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	sb.DeleteFrom("resolution_cache")
	sb.Where(
		sb.Equal("source_platform", platform),
		sb.Equal("source_user_id", sourceUserID),
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to delete resolution cache entry")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete resolution cache entry")
	}

	return nil
}

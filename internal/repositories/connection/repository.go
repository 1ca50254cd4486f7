// Package connection persists discovered social connections and their
// reading-platform match state
package connection

import (
	"context"
	"fmt"
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
	"id", "import_id", "user_id", "source_platform", "source_user_id",
	"source_handle", "source_display_name", "source_bio", "source_profile_url",
	"goodreads_user_id", "match_confidence", "match_method", "verified_by_user",
	"created_at", "updated_at",
}

// ListFilter narrows connection listings
type ListFilter struct {
	ImportID    string
	MatchedOnly bool
	Limit       int
	Offset      int
}

// Repository handles connection persistence
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

// CreateBatch inserts unresolved connections for an import run. Re-imported
// accounts update their snapshot fields in place so match state survives a
// refresh.
func (r *Repository) CreateBatch(ctx context.Context, connections []*models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.CreateBatch")
	defer span.End()

	if len(connections) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("social_connections")
	sb.Cols(columns...)

	for _, c := range connections {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.CreatedAt = now
		c.UpdatedAt = now
		sb.Values(c.ID, c.ImportID, c.UserID, c.SourcePlatform, c.SourceUserID,
			c.SourceHandle, c.SourceDisplayName, c.SourceBio, c.SourceProfileURL,
			c.GoodreadsUserID, c.MatchConfidence, c.MatchMethod, c.VerifiedByUser,
			c.CreatedAt, c.UpdatedAt)
	}

	query, args := sb.Build()
	query += " ON CONFLICT (user_id, source_platform, source_user_id) DO UPDATE SET import_id = EXCLUDED.import_id, source_handle = EXCLUDED.source_handle, source_display_name = EXCLUDED.source_display_name, source_bio = EXCLUDED.source_bio, source_profile_url = EXCLUDED.source_profile_url, updated_at = EXCLUDED.updated_at"

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create connections batch")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create connections")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"count": len(connections)}).Debug("Created connections batch")
	return nil
}

// Get retrieves a connection by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_connections")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var conn models.Connection
	if err := r.db.GetContext(ctx, &conn, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("connection %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get connection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connection")
	}

	return &conn, nil
}

// GetForUser retrieves a connection scoped to its owner
func (r *Repository) GetForUser(ctx context.Context, userID string, id string) (*models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.GetForUser")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_connections")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()
	var conn models.Connection
	if err := r.db.GetContext(ctx, &conn, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("connection %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get connection")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get connection")
	}

	return &conn, nil
}

// ListByImport retrieves every connection created by an import run
func (r *Repository) ListByImport(ctx context.Context, importID string) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ListByImport")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_connections")
	sb.Where(sb.Equal("import_id", importID))
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var connections []models.Connection
	if err := r.db.SelectContext(ctx, &connections, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list connections for import")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}

	return connections, nil
}

// ListByUser retrieves a user's connections with optional filters
func (r *Repository) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]models.Connection, error) {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ListByUser")
	defer span.End()

	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_connections")
	conds := []string{sb.Equal("user_id", userID)}
	if filter.ImportID != "" {
		conds = append(conds, sb.Equal("import_id", filter.ImportID))
	}
	if filter.MatchedOnly {
		conds = append(conds, sb.IsNotNull("goodreads_user_id"))
	}
	sb.Where(conds...)
	sb.OrderBy("match_confidence").Desc()
	sb.Limit(filter.Limit)
	sb.Offset(filter.Offset)

	query, args := sb.Build()
	var connections []models.Connection
	if err := r.db.SelectContext(ctx, &connections, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list connections")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list connections")
	}

	return connections, nil
}

// ApplyMatch records a resolution outcome on a connection
func (r *Repository) ApplyMatch(ctx context.Context, id string, goodreadsUserID string, confidence float64, method models.ResolutionMethod, verified bool) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.ApplyMatch")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_connections")
	sb.Set(
		sb.Assign("goodreads_user_id", goodreadsUserID),
		sb.Assign("match_confidence", confidence),
		sb.Assign("match_method", method),
		sb.Assign("verified_by_user", verified),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": id}).Error("Failed to apply match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connection")
	}

	return nil
}

// RejectMatch clears a rejected match and, when the connection was matched,
// drops the import's matched counter and removes the connection's feed items
// in the same transaction.
func (r *Repository) RejectMatch(ctx context.Context, conn *models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.RejectMatch")
	defer span.End()

	wasMatched := conn.IsMatched()
	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_connections")
	sb.Set(
		sb.Assign("goodreads_user_id", nil),
		sb.Assign("match_confidence", 0),
		sb.Assign("match_method", nil),
		sb.Assign("verified_by_user", false),
		sb.Assign("updated_at", now),
	)
	sb.Where(sb.Equal("id", conn.ID))
	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": conn.ID}).Error("Failed to clear match")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connection")
	}

	if wasMatched {
		query := "UPDATE social_imports SET matched_accounts = GREATEST(matched_accounts - 1, 0), updated_at = $1 WHERE id = $2"
		if _, err := tx.ExecContext(ctx, query, now, conn.ImportID); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"import_id": conn.ImportID}).Error("Failed to decrement matched counter")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import")
		}

		db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
		db.DeleteFrom("social_feed_items")
		db.Where(db.Equal("connection_id", conn.ID))
		query, args := db.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": conn.ID}).Error("Failed to remove feed items for rejected match")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to remove feed items")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return nil
}

// SetVerified marks a connection's match as user confirmed
func (r *Repository) SetVerified(ctx context.Context, id string, verified bool) error {
	ctx, span := tracing.StartSpan(ctx, "connection.Repository.SetVerified")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_connections")
	sb.Set(
		sb.Assign("verified_by_user", verified),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"connection_id": id}).Error("Failed to set verified")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update connection")
	}

	return nil
}

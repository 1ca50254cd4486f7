// Package importrecord persists social graph import runs
package importrecord

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
	"id", "user_id", "source_platform", "source_account_id", "source_handle",
	"status", "total_accounts", "resolved_accounts", "matched_accounts",
	"error", "created_at", "updated_at", "last_refreshed_at",
}

// Repository handles import run persistence
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

// Create creates a new import run in pending status
func (r *Repository) Create(ctx context.Context, imp *models.Import) (*models.Import, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.Create")
	defer span.End()

	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	imp.Status = models.ImportStatusPending
	imp.CreatedAt = time.Now().UTC()
	imp.UpdatedAt = imp.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("social_imports")
	sb.Cols(columns...)
	sb.Values(imp.ID, imp.UserID, imp.SourcePlatform, imp.SourceAccountID, imp.SourceHandle,
		imp.Status, imp.TotalAccounts, imp.ResolvedAccounts, imp.MatchedAccounts,
		imp.Error, imp.CreatedAt, imp.UpdatedAt, imp.LastRefreshedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"import_id": imp.ID}).Error("Failed to create import")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import")
	}

	return imp, nil
}

// Get retrieves an import by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Import, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_imports")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var imp models.Import
	if err := r.db.GetContext(ctx, &imp, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("import %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get import")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import")
	}

	return &imp, nil
}

// GetForUser retrieves an import scoped to its owner
func (r *Repository) GetForUser(ctx context.Context, userID string, id string) (*models.Import, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.GetForUser")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_imports")
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("user_id", userID),
	)

	query, args := sb.Build()
	var imp models.Import
	if err := r.db.GetContext(ctx, &imp, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("import %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get import")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import")
	}

	return &imp, nil
}

// ListByUser retrieves a user's imports newest first
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Import, error) {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.ListByUser")
	defer span.End()

	if limit < 1 || limit > 100 {
		limit = 20
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From("social_imports")
	sb.Where(sb.Equal("user_id", userID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	var imports []models.Import
	if err := r.db.SelectContext(ctx, &imports, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list imports")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list imports")
	}

	return imports, nil
}

// SetStatus transitions an import's status. The error message is cleared
// unless a failure is being recorded.
func (r *Repository) SetStatus(ctx context.Context, id string, status models.ImportStatus, errMsg *string) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.SetStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_imports")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("error", errMsg),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"import_id": id, "status": status}).Error("Failed to update import status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import status")
	}

	return nil
}

// SetTotalAccounts records how many accounts the import will process
func (r *Repository) SetTotalAccounts(ctx context.Context, id string, total int) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.SetTotalAccounts")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_imports")
	sb.Set(
		sb.Assign("total_accounts", total),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set total accounts")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import")
	}

	return nil
}

// SetSourceAccountID records the platform account id once the handle
// has been resolved
func (r *Repository) SetSourceAccountID(ctx context.Context, id string, accountID string) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.SetSourceAccountID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_imports")
	sb.Set(
		sb.Assign("source_account_id", accountID),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to set source account id")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import")
	}

	return nil
}

// MarkComplete finishes an import and stamps the refresh time
func (r *Repository) MarkComplete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.MarkComplete")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("social_imports")
	sb.Set(
		sb.Assign("status", models.ImportStatusComplete),
		sb.Assign("error", nil),
		sb.Assign("last_refreshed_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"import_id": id}).Error("Failed to mark import complete")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import")
	}

	return nil
}

// IncrementResolved bumps the resolved counter in a single statement so
// concurrent resolve jobs never lose updates
func (r *Repository) IncrementResolved(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.IncrementResolved")
	defer span.End()

	query := "UPDATE social_imports SET resolved_accounts = resolved_accounts + 1, updated_at = $1 WHERE id = $2"
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to increment resolved accounts")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import")
	}

	return nil
}

// IncrementMatched bumps the matched counter in a single statement
func (r *Repository) IncrementMatched(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "importrecord.Repository.IncrementMatched")
	defer span.End()

	query := "UPDATE social_imports SET matched_accounts = matched_accounts + 1, updated_at = $1 WHERE id = $2"
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to increment matched accounts")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import")
	}

	return nil
}

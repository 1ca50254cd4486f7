// Package connections exposes connection listing and match verification
// endpoints
package connections

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/jzhao23/social-reading-discovery/internal/repositories/connection"
	"github.com/jzhao23/social-reading-discovery/internal/repositories/importrecord"
	"github.com/jzhao23/social-reading-discovery/internal/repositories/resolutioncache"
	appctx "github.com/jzhao23/social-reading-discovery/pkg/context"
	"github.com/jzhao23/social-reading-discovery/pkg/jobs"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/resolution"
)

var validate = validator.New()

// Register registers connection routes
func Register(g *echo.Group) {
	g.GET("", ListConnections)
	g.GET("/:id", GetConnection)
	g.PATCH("/:id", UpdateConnection)
}

// ListConnections lists the caller's connections, best matches first
func ListConnections(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*connection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	filter := connection.ListFilter{
		ImportID:    c.QueryParam("import_id"),
		MatchedOnly: c.QueryParam("matched") == "true",
	}
	connections, err := repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, connections)
}

// GetConnection returns one connection
func GetConnection(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*connection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	conn, err := repo.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, conn)
}

// UpdateConnection applies a user action to a connection's match: confirm
// an automatic match, reject it, or link a reader manually.
func UpdateConnection(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	var req models.UpdateConnectionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*connection.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	conn, err := repo.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return err
	}

	switch models.ConnectionAction(req.Action) {
	case models.ActionConfirm:
		err = confirmMatch(ctx, repo, conn)
	case models.ActionReject:
		err = rejectMatch(ctx, repo, conn)
	case models.ActionManualLink:
		err = manualLink(ctx, repo, conn, req.GoodreadsUserID)
	default:
		return httperror.NewHTTPError(http.StatusBadRequest, "action must be confirm, reject, or manual_link")
	}
	if err != nil {
		return err
	}

	updated, err := repo.Get(ctx, conn.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

// confirmMatch marks the match verified and promotes the cache entry to
// full confidence so future resolutions trust it
func confirmMatch(ctx context.Context, repo *connection.Repository, conn *models.Connection) error {
	if conn.GoodreadsUserID == nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "connection has no match to confirm")
	}

	if err := repo.SetVerified(ctx, conn.ID, true); err != nil {
		return err
	}

	method := models.MethodManual
	if conn.MatchMethod != nil {
		method = *conn.MatchMethod
	}
	upsertCache(ctx, conn, *conn.GoodreadsUserID, method)
	return nil
}

// rejectMatch clears the match, drops the import's matched counter, and
// removes the connection's feed items in one transaction. The cached
// resolution is evicted so a refresh re-runs the matcher chain instead of
// restoring the rejected identity.
func rejectMatch(ctx context.Context, repo *connection.Repository, conn *models.Connection) error {
	if err := repo.RejectMatch(ctx, conn); err != nil {
		return err
	}

	if ctx2, cache, err := ectoinject.GetContext[*resolutioncache.Repository](ctx); err == nil {
		if delErr := cache.Delete(ctx2, conn.SourcePlatform, conn.SourceUserID); delErr != nil {
			logWarn(ctx, delErr, "Failed to evict resolution cache entry")
		}
	}
	return nil
}

// manualLink attaches a user-chosen reader at full confidence and queues
// an activity sync
func manualLink(ctx context.Context, repo *connection.Repository, conn *models.Connection, goodreadsUserID string) error {
	if goodreadsUserID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "goodreads_user_id is required for manual_link")
	}

	wasMatched := conn.IsMatched()

	if err := repo.ApplyMatch(ctx, conn.ID, goodreadsUserID, resolution.ManualConfidence, models.MethodManual, true); err != nil {
		return err
	}

	if !wasMatched {
		if ctx2, imports, err := ectoinject.GetContext[*importrecord.Repository](ctx); err == nil {
			if incErr := imports.IncrementMatched(ctx2, conn.ImportID); incErr != nil {
				logWarn(ctx, incErr, "Failed to increment matched counter")
			}
		}
	}

	upsertCache(ctx, conn, goodreadsUserID, models.MethodManual)

	if ctx2, dispatcher, err := ectoinject.GetContext[jobs.Dispatcher](ctx); err == nil {
		if enqErr := dispatcher.Enqueue(ctx2, jobs.KindActivity, conn.UserID, jobs.ActivityPayload{ConnectionID: conn.ID}); enqErr != nil {
			logWarn(ctx, enqErr, "Failed to enqueue activity sync")
		}
	}

	return nil
}

// upsertCache is best effort; verification should not fail on a cache error
func upsertCache(ctx context.Context, conn *models.Connection, goodreadsUserID string, method models.ResolutionMethod) {
	ctx2, cache, err := ectoinject.GetContext[*resolutioncache.Repository](ctx)
	if err != nil {
		return
	}
	entry := &models.ResolutionCacheEntry{
		SourcePlatform:  conn.SourcePlatform,
		SourceUserID:    conn.SourceUserID,
		GoodreadsUserID: goodreadsUserID,
		Confidence:      resolution.ManualConfidence,
		Method:          method,
	}
	if err := cache.Upsert(ctx2, entry); err != nil {
		logWarn(ctx, err, "Failed to upsert resolution cache entry")
	}
}

func logWarn(ctx context.Context, err error, msg string) {
	if _, logger, lerr := ectoinject.GetContext[ectologger.Logger](ctx); lerr == nil && logger != nil {
		logger.WithContext(ctx).WithError(err).Warn(msg)
	}
}

// Package imports exposes the import run endpoints
package imports

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/jzhao23/social-reading-discovery/internal/repositories/importrecord"
	appctx "github.com/jzhao23/social-reading-discovery/pkg/context"
	"github.com/jzhao23/social-reading-discovery/pkg/jobs"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

var validate = validator.New()

// Register registers import routes
func Register(g *echo.Group) {
	g.POST("", CreateImport)
	g.GET("", ListImports)
	g.GET("/:id", GetImport)
	g.POST("/:id/refresh", RefreshImport)
}

// CreateImport starts a new social graph import and queues the import job
func CreateImport(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.CreateImportRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		userID = req.UserID
	}
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}
	req.UserID = userID
	if req.SourcePlatform == "" {
		req.SourcePlatform = string(models.PlatformTwitter)
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	platform := models.SourcePlatform(req.SourcePlatform)

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imp, err := repo.Create(ctx, &models.Import{
		UserID:         userID,
		SourcePlatform: platform,
		SourceHandle:   req.SourceHandle,
	})
	if err != nil {
		return err
	}

	ctx, dispatcher, err := ectoinject.GetContext[jobs.Dispatcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := dispatcher.Enqueue(ctx, jobs.KindImport, userID, jobs.ImportPayload{ImportID: imp.ID}); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to queue import")
	}

	return c.JSON(http.StatusAccepted, imp)
}

// ListImports lists the caller's import runs
func ListImports(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imports, err := repo.ListByUser(ctx, userID, 20)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, imports)
}

// GetImport returns an import run with its progress
func GetImport(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imp, err := repo.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return err
	}

	percent := 0.0
	if imp.TotalAccounts > 0 {
		percent = float64(imp.ResolvedAccounts) / float64(imp.TotalAccounts) * 100
	} else if imp.Status == models.ImportStatusComplete {
		percent = 100
	}

	return c.JSON(http.StatusOK, models.ImportProgressResponse{
		Import:      *imp,
		PercentDone: percent,
	})
}

// RefreshImport re-runs a finished import to pick up new connections and
// fresh reading activity
func RefreshImport(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	imp, err := repo.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return err
	}
	if !imp.IsTerminal() {
		return httperror.NewHTTPError(http.StatusConflict, "import is still running")
	}

	ctx, dispatcher, err := ectoinject.GetContext[jobs.Dispatcher](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := dispatcher.Enqueue(ctx, jobs.KindRefresh, userID, jobs.RefreshPayload{ImportID: imp.ID}); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to queue refresh")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "refresh queued"})
}

// Package feed exposes the reading activity feed endpoint
package feed

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/jzhao23/social-reading-discovery/internal/repositories/feeditem"
	appctx "github.com/jzhao23/social-reading-discovery/pkg/context"
	"github.com/jzhao23/social-reading-discovery/pkg/models"
)

const defaultPageSize = 50

// Register registers feed routes
func Register(g *echo.Group) {
	g.GET("", GetFeed)
}

// GetFeed returns the caller's aggregated reading activity, newest first
func GetFeed(c echo.Context) error {
	ctx := c.Request().Context()

	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return httperror.NewHTTPError(http.StatusUnauthorized, "user id is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = defaultPageSize
	}

	filter := feeditem.ListFilter{
		ActivityType: models.ActivityType(c.QueryParam("type")),
		ConnectionID: c.QueryParam("connection_id"),
		Limit:        pageSize,
		Offset:       (page - 1) * pageSize,
	}

	ctx, repo, err := ectoinject.GetContext[*feeditem.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return err
	}
	total, err := repo.CountByUser(ctx, userID, filter)
	if err != nil {
		return err
	}

	if items == nil {
		items = []models.FeedItem{}
	}

	return c.JSON(http.StatusOK, models.FeedResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

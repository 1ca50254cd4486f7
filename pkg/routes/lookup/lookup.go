// Package lookup exposes a read-only resolution preview for a single handle
package lookup

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/jzhao23/social-reading-discovery/pkg/models"
	"github.com/jzhao23/social-reading-discovery/pkg/resolution"
	"github.com/jzhao23/social-reading-discovery/pkg/twitter"
)

// Register registers lookup routes
func Register(g *echo.Group) {
	g.GET("/:handle", LookupHandle)
}

// Result is the lookup response
type Result struct {
	Profile         *models.SourceProfile    `json:"profile"`
	GoodreadsUserID string                   `json:"goodreads_user_id,omitempty"`
	Confidence      float64                  `json:"confidence,omitempty"`
	Method          *models.ResolutionMethod `json:"method,omitempty"`
}

// LookupHandle resolves a single social handle without creating any
// connections. Useful for previewing what an import would find.
func LookupHandle(c echo.Context) error {
	ctx := c.Request().Context()

	handle := c.Param("handle")
	if handle == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "handle is required")
	}

	ctx, client, err := ectoinject.GetContext[*twitter.Client](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	profile, err := client.FetchProfileByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if profile == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "handle not found")
	}

	ctx, pipeline, err := ectoinject.GetContext[*resolution.Pipeline](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	match, err := pipeline.Resolve(ctx, profile)
	if err != nil {
		return err
	}

	result := Result{Profile: profile}
	if match != nil {
		result.GoodreadsUserID = match.GoodreadsUserID
		result.Confidence = match.Confidence
		result.Method = &match.Method
	}

	return c.JSON(http.StatusOK, result)
}

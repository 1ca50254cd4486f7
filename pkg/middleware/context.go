// Package middleware wires request identity, logging, and error rendering
// into the echo pipeline.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/jzhao23/social-reading-discovery/pkg/context"
)

const (
	// HeaderUserID carries the authenticated user ID, set by the gateway
	// in front of this service
	HeaderUserID = "X-User-ID"
)

// Context seeds the request context with identity fields. Requests without
// a request ID get a generated one so log lines stay correlatable.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetUserID(ctx, req.Header.Get(HeaderUserID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

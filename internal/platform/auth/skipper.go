package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are the health check and scrape routes. Everything under /api/v1,
// the model map included, needs a token.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether route is a health check or scrape endpoint. The
// request logger uses it to keep those out of info-level logs.
func IsPublicPath(route string) bool {
	return publicPaths[route]
}

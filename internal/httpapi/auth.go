// Package httpapi is the thin echo transport over the hub core (spec
// §6), mirroring the teacher's own echo-group-plus-middleware routing
// style without its JWT/session machinery: the tokens here are static
// bearer sets, not issued credentials.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenSet holds the three independent bearer-token pools the spec
// names (RPC, collector, processor). An empty set denies every request
// for that role — deny-by-default, never "any token accepted".
type TokenSet struct {
	RPC       []string
	Collector []string
	Processor []string
}

func contains(set []string, token string) bool {
	for _, t := range set {
		if t == token && t != "" {
			return true
		}
	}
	return false
}

// requireToken returns echo middleware that accepts a bearer token
// either via the Authorization header or a "token" query parameter,
// checked against the named pool. A token in the request body is not
// read.
func requireToken(tokens []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerFromHeader(c.Request().Header.Get("Authorization"))
			if token == "" {
				token = c.QueryParam("token")
			}
			if token == "" || !contains(tokens, token) {
				return c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
			}
			return next(c)
		}
	}
}

func bearerFromHeader(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

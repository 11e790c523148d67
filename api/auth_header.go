package api

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken extracts the token from the Authorization header, falling
// back to the token query parameter for transports that cannot set
// headers, like EventSource.
func bearerToken(c echo.Context) (string, error) {
	raw := c.Request().Header.Get(echo.HeaderAuthorization)
	if raw == "" {
		if token := c.QueryParam("token"); token != "" {
			return token, nil
		}
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(raw)
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := trimmed[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

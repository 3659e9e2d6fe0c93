package middleware

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/folio/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PermissionIngest allows replacing and extending the indexed portfolio.
const PermissionIngest = "portfolio.ingest"

// allPermissions is granted to the master key and to admins whose token
// carries no explicit list.
var allPermissions = []string{
	PermissionIngest,
}

// HasPermission reports whether user holds permission, either directly or
// through a "<scope>.*" grant.
func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	for _, p := range user.Permissions {
		if p == permission {
			return true
		}
		if scope, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(permission, scope+".") {
			return true
		}
	}
	return false
}

func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac := c.(*AppContext)
			if ac.User == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			if !HasPermission(ac.User, permission) {
				logger.Warn("Permission denied",
					"subject", ac.User.Subject,
					"permission", permission,
					"request_id", ac.RequestID,
				)
				return c.JSON(http.StatusForbidden, map[string]string{"error": "missing permission " + permission})
			}
			return next(c)
		}
	}
}

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var masterUser = AppUser{
	Subject:     "master",
	Role:        "admin",
	Permissions: allPermissions,
}

// AuthMiddleware accepts the master API key or a JWT verified against the
// configured key set.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := bearerToken(c.Request())
		if !ok {
			return unauthorized(c)
		}
		ac := c.(*AppContext)

		if key := ac.App.MasterAPIKey; key != "" && subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			user := masterUser
			ac.User = &user
			return next(c)
		}
		if ac.App.Key == nil {
			return unauthorized(c)
		}

		parsed, err := jwt.Parse(token, ac.App.Key)
		if err != nil || !parsed.Valid {
			return unauthorized(c)
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c)
		}
		ac.User = userFromClaims(claims)
		return next(c)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// userFromClaims reads sub (or id), role and permissions. Admins without an
// explicit permission list get every permission.
func userFromClaims(claims jwt.MapClaims) *AppUser {
	user := &AppUser{Role: "user"}
	user.Subject, _ = claims.GetSubject()
	if user.Subject == "" {
		user.Subject, _ = claims["id"].(string)
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		user.Role = role
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				user.Permissions = append(user.Permissions, s)
			}
		}
	}
	if user.Role == "admin" && len(user.Permissions) == 0 {
		user.Permissions = allPermissions
	}
	return user
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

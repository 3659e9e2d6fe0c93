package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestUserFromClaims(t *testing.T) {
	u := userFromClaims(jwt.MapClaims{"id": "42"})
	assert.Equal(t, "42", u.Subject)
	assert.Equal(t, "user", u.Role)
	assert.Empty(t, u.Permissions)

	u = userFromClaims(jwt.MapClaims{"sub": "a", "role": "admin"})
	assert.Equal(t, allPermissions, u.Permissions)

	u = userFromClaims(jwt.MapClaims{"sub": "a", "role": "editor", "permissions": []any{"portfolio.ingest", 7}})
	assert.Equal(t, []string{"portfolio.ingest"}, u.Permissions)
}

func TestHasPermission(t *testing.T) {
	cases := []struct {
		name  string
		user  *AppUser
		perm  string
		allow bool
	}{
		{"nil user", nil, PermissionIngest, false},
		{"direct", &AppUser{Permissions: []string{PermissionIngest}}, PermissionIngest, true},
		{"scope wildcard", &AppUser{Permissions: []string{"portfolio.*"}}, PermissionIngest, true},
		{"other scope", &AppUser{Permissions: []string{"billing.*"}}, PermissionIngest, false},
		{"prefix is not a scope", &AppUser{Permissions: []string{"port.*"}}, PermissionIngest, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allow, HasPermission(tc.user, tc.perm))
		})
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	_, ok := bearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Basic abc")
	_, ok = bearerToken(r)
	assert.False(t, ok)

	r.Header.Set("Authorization", "Bearer  tok ")
	tok, ok := bearerToken(r)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)
}

// Package middleware holds the gin middleware shared by every route group.
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/auth"
	"github.com/01moynul/storefront-ledger/internal/models"
)

// Context keys set by Auth and RequireAdmin.
const (
	KeyUserID   = "userID"
	KeyUserRole = "userRole"
)

// RoleSource looks up a user's current role.
type RoleSource interface {
	Role(ctx context.Context, userID int64) (string, error)
}

// abort stops the chain with the standard error body.
func abort(c *gin.Context, kind apperr.Kind, detail string) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"detail": detail, "code": kind})
}

// Auth requires a valid "Authorization: Bearer <token>" header and stores
// the caller's id and role on the context.
func Auth(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. --- Get the Authorization header ---
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, apperr.KindUnauthorized, "Authorization header is required")
			return
		}

		// 2. --- Check the "Bearer <token>" format ---
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, apperr.KindUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		// 3. --- Validate the token ---
		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			abort(c, apperr.KindUnauthorized, "Invalid or expired token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			abort(c, apperr.KindUnauthorized, "Invalid or expired token")
			return
		}

		// 4. --- Store the caller ---
		c.Set(KeyUserID, userID)
		c.Set(KeyUserRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin must run after Auth. The role is re-read from the database
// so a demoted admin loses access before their token expires.
func RequireAdmin(roles RoleSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			abort(c, apperr.KindUnauthorized, "Authentication required")
			return
		}

		role, err := roles.Role(c.Request.Context(), userID)
		if err != nil {
			kind := apperr.KindOf(err)
			abort(c, kind, apperr.Detail(err))
			return
		}
		if role != models.RoleAdmin {
			abort(c, apperr.KindForbidden, "Admin access required")
			return
		}

		c.Set(KeyUserRole, role)
		c.Next()
	}
}

// UserID returns the authenticated caller's id.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(KeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// IsAdmin reports whether the caller's token carries the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(KeyUserRole) == models.RoleAdmin
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/portail-univ/demande-api/internal/models"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
	"github.com/portail-univ/demande-api/pkg/response"
)

// RequireRoles blocks requests whose JWT role is not in the allowed set. The
// SYSTEM pseudo-role never appears in tokens, so listing it here would be a
// configuration error rather than a grant.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff shorthand for the two back-office roles.
func RequireStaff() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
}

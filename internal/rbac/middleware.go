package rbac

import (
	"net/http"

	"marketcall/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole rejects callers whose role is not listed. Missing identity is 401, wrong role 403.
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	return guard(func(id auth.Identity) (int, string) {
		if id.Role == "" {
			return http.StatusUnauthorized, "role required"
		}
		if !Allows(id, roles...) {
			return http.StatusForbidden, "forbidden"
		}
		return 0, ""
	})
}

// RequireShop rejects callers that do not act for a shop.
func RequireShop() gin.HandlerFunc {
	return guard(requireShop)
}

// RequireSeller guards shop-side routes: the token must be shop scoped and carry the seller role.
func RequireSeller() gin.HandlerFunc {
	return guard(func(id auth.Identity) (int, string) {
		if code, msg := requireShop(id); code != 0 {
			return code, msg
		}
		if !Allows(id, RoleSeller) {
			return http.StatusForbidden, "forbidden"
		}
		return 0, ""
	})
}

func requireShop(id auth.Identity) (int, string) {
	if id.ShopID == "" {
		return http.StatusUnauthorized, "shop_id required"
	}
	return 0, ""
}

// guard turns a check into middleware. A zero status lets the request through.
func guard(check func(auth.Identity) (int, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if code, msg := check(id); code != 0 {
			c.AbortWithStatusJSON(code, gin.H{"error": msg})
			return
		}
		c.Next()
	}
}

package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"marketcall/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(id auth.Identity, chain ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })

	r := gin.New()
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs(auth.Identity{UserID: "u", Role: RoleAdmin}, RequireAnyRole(RoleSeller)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_BuyerDeniedOnSellerRoute(t *testing.T) {
	if code := serveAs(auth.Identity{UserID: "u", Role: RoleBuyer}, RequireAnyRole(RoleSeller)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireShop_SellerWithoutShop(t *testing.T) {
	if code := serveAs(auth.Identity{UserID: "u", Role: RoleSeller}, RequireShop(), RequireAnyRole(RoleSeller)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := serveAs(auth.Identity{UserID: "u", Role: RoleSeller, ShopID: "s1"}, RequireShop(), RequireAnyRole(RoleSeller)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireSeller(t *testing.T) {
	cases := []struct {
		name string
		id   auth.Identity
		want int
	}{
		{"seller with shop", auth.Identity{UserID: "s", Role: RoleSeller, ShopID: "shop-1"}, http.StatusOK},
		{"seller without shop", auth.Identity{UserID: "s", Role: RoleSeller}, http.StatusUnauthorized},
		{"buyer carrying a shop", auth.Identity{UserID: "b", Role: RoleBuyer, ShopID: "shop-1"}, http.StatusForbidden},
		{"admin with shop", auth.Identity{UserID: "a", Role: RoleAdmin, ShopID: "shop-1"}, http.StatusOK},
		{"anonymous", auth.Identity{}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code := serveAs(tc.id, RequireSeller()); code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, code)
			}
		})
	}
}

func TestAllows(t *testing.T) {
	if !Allows(auth.Identity{Role: RoleBuyer}, RoleBuyer, RoleSeller) {
		t.Fatalf("buyer should be allowed")
	}
	if Allows(auth.Identity{Role: RoleBuyer}, RoleSeller) {
		t.Fatalf("buyer should not pass a seller check")
	}
}

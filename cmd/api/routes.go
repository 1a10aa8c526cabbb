package main

import (
	"context"
	"net/http"
	"time"

	"marketcall/internal/httpapi"
	"marketcall/internal/rbac"
	"marketcall/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	hub      *signaling.Hub
	rdb      *redis.Client
	apiLimit int
	ready    func(ctx context.Context) error
}

// registerRoutes mounts the API. Per-route guards sit here; handlers hold no auth policy.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	r.GET("/healthz", func(c *gin.Context) {
		if d.ready != nil {
			if err := d.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/refresh", httpapi.RateLimit(d.rdb, "refresh", 10, time.Minute), h.Refresh)

	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	v1.Use(httpapi.RateLimit(d.rdb, "api", d.apiLimit, time.Minute))
	{
		v1.GET("/me", h.Me)
		v1.GET("/signaling", d.hub.Serve)
		v1.GET("/invoices/:id/image", h.InvoiceImage)

		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("/:callId/media",
				rbac.RequireAnyRole(rbac.RoleBuyer, rbac.RoleSeller), h.IssueMedia)
			callsGroup.POST("/:callId/invoice",
				rbac.RequireSeller(), h.IssueInvoice)
			callsGroup.POST("/schedule-callback",
				rbac.RequireAnyRole(rbac.RoleBuyer),
				httpapi.RateLimit(d.rdb, "callback", 10, time.Minute),
				h.ScheduleCallback)
		}

		shop := v1.Group("/shop")
		shop.Use(rbac.RequireSeller())
		{
			shop.GET("/callbacks", h.UpcomingCallbacks)
		}
	}
}

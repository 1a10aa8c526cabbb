package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"marketcall/internal/audit"
	"marketcall/internal/auth"
	"marketcall/internal/callback"
	"marketcall/internal/calls"
	"marketcall/internal/invoice"
	"marketcall/internal/signaling"
	"marketcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// MediaIssuer mints media configs for both ends of a call.
type MediaIssuer interface {
	ForCall(ctx context.Context, callID, localUID, remoteUID string) (local, remote calls.MediaConfig, err error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Invoices  *invoice.Service
	Callbacks *callback.Service
	Media     MediaIssuer
	Calls     signaling.Registry
	Audit     *audit.Service
}

func actor(c *gin.Context, id auth.Identity) audit.Actor {
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: audit.ClientIPFromContext(c.Request.Context())}
}

// --- Auth ---

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	now := time.Now()
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, now)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	pair, err := h.Auth.IssuePair(now, claims.Identity())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role, "shop_id": id.ShopID, "shop_name": id.ShopName})
}

// --- Calls ---

// IssueMedia returns media configs for the requester (local) and the other participant (remote).
func (h Handlers) IssueMedia(c *gin.Context) {
	if h.Media == nil || h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "media not configured"})
		return
	}
	ctx := c.Request.Context()
	id, err := auth.IdentityFrom(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	callID := c.Param("callId")

	p, err := h.Calls.Lookup(ctx, callID)
	if errors.Is(err, signaling.ErrCallNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	other, ok := p.Other(id.UserID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	local, remote, err := h.Media.ForCall(ctx, callID, id.UserID, other)
	if err != nil {
		logger.FromGin(c).Error("media issue failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "media unavailable"})
		return
	}
	h.Audit.MediaIssued(ctx, actor(c, id), callID)
	c.JSON(http.StatusOK, gin.H{"local": local, "remote": remote})
}

// --- Invoices ---

// IssueInvoice stores the seller's draft and pushes invoice_ready to the buyer.
func (h Handlers) IssueInvoice(c *gin.Context) {
	if h.Invoices == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "invoices not configured"})
		return
	}
	ctx := c.Request.Context()
	id, err := auth.IdentityFrom(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var d invoice.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	seller := invoice.Seller{UserID: id.UserID, ShopID: id.ShopID, ShopName: id.ShopName}
	it, err := h.Invoices.Issue(ctx, seller, c.Param("callId"), d)
	switch {
	case errors.Is(err, invoice.ErrInvalidDraft):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, invoice.ErrNotParticipant):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	case errors.Is(err, invoice.ErrNotAnswered):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call was not answered"})
		return
	case err != nil:
		logger.FromGin(c).Error("invoice issue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.Audit.InvoiceIssued(ctx, actor(c, id), it)
	c.JSON(http.StatusCreated, invoice.Receipt{InvoiceID: it.InvoiceID, ExpiresAt: it.ExpiresAt})
}

func (h Handlers) InvoiceImage(c *gin.Context) {
	if h.Invoices == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "invoices not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	img, err := h.Invoices.Image(c.Request.Context(), uid, c.Param("id"))
	switch {
	case errors.Is(err, invoice.ErrNotFound), errors.Is(err, invoice.ErrNoImage):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("invoice image failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Header("Cache-Control", "private, max-age=900")
	c.Data(http.StatusOK, img.ContentType, img.Bytes)
}

// --- Callbacks ---

func (h Handlers) ScheduleCallback(c *gin.Context) {
	if h.Callbacks == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "callbacks not configured"})
		return
	}
	ctx := c.Request.Context()
	id, err := auth.IdentityFrom(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req callback.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	rec, err := h.Callbacks.Schedule(ctx, id.UserID, req)
	switch {
	case errors.Is(err, callback.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, callback.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "slot already taken"})
		return
	case errors.Is(err, callback.ErrSlotUnavailable):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "slot unavailable"})
		return
	case err != nil:
		logger.FromGin(c).Error("callback schedule failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.Audit.CallbackScheduled(ctx, actor(c, id), rec)
	c.JSON(http.StatusCreated, callback.Ack{Status: callback.StatusScheduled, ID: rec.ID})
}

// UpcomingCallbacks lists the calling shop's scheduled callbacks.
func (h Handlers) UpcomingCallbacks(c *gin.Context) {
	if h.Callbacks == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "callbacks not configured"})
		return
	}
	shopID, err := auth.ShopID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "shop_id required"})
		return
	}
	recs, err := h.Callbacks.Upcoming(c.Request.Context(), shopID)
	if err != nil {
		logger.FromGin(c).Error("callback list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"callbacks": recs})
}

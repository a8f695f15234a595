package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"donation-push-backend/internal/model"
	"donation-push-backend/internal/mw"
)

type subscribeRequest struct {
	Endpoint  string `json:"endpoint" binding:"required"`
	P256DH    string `json:"p256dh" binding:"required"`
	Auth      string `json:"auth" binding:"required"`
	UserAgent string `json:"userAgent"`
}

// SubscriptionResponse is the API view of a stored subscription.
type SubscriptionResponse struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Subscribe registers or refreshes a device subscription for the calling
// user, keyed by endpoint.
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	sub := model.PushSubscription{
		UserID:    c.GetString(mw.CtxUserID),
		Endpoint:  req.Endpoint,
		P256DH:    req.P256DH,
		Auth:      req.Auth,
		UserAgent: userAgent,
	}

	stored, err := h.store.UpsertSubscription(c.Request.Context(), &sub)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, SubscriptionResponse{
		ID:        stored.ID,
		Endpoint:  stored.Endpoint,
		UserAgent: stored.UserAgent,
		CreatedAt: stored.CreatedAt,
	})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// Unsubscribe deletes a device subscription by endpoint, scoped to the
// calling user. Unknown endpoints are a no-op success.
func (h *Handler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(mw.CtxUserID)
	if err := h.store.DeleteSubscription(c.Request.Context(), userID, req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unsubscribed": true})
}

// Status reports whether the calling user has any registered devices, and
// lists them for display.
func (h *Handler) Status(c *gin.Context) {
	userID := c.GetString(mw.CtxUserID)

	subs, err := h.store.ListSubscriptionsByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	responses := make([]SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		responses = append(responses, SubscriptionResponse{
			ID:        s.ID,
			Endpoint:  s.Endpoint,
			UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"subscribed":    len(responses) > 0,
		"subscriptions": responses,
	})
}

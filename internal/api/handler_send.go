package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"donation-push-backend/internal/mw"
	"donation-push-backend/internal/notification"
)

type sendRequest struct {
	UserID string         `json:"userId" binding:"required"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	URL    string         `json:"url"`
	Icon   string         `json:"icon"`
	Data   map[string]any `json:"data"`
}

// SendToUser fans a notification out to every device of the target user.
// Partial delivery failure is reported in the summary, not as an error.
func (h *Handler) SendToUser(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := notification.Notification{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
		Icon:  req.Icon,
		Data:  req.Data,
	}

	summary, err := h.dispatcher.SendToUser(c.Request.Context(), req.UserID, n)
	if err != nil {
		h.writeSendError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// SendTest delivers a canned notification to the calling user's own devices,
// verifying end-to-end delivery.
func (h *Handler) SendTest(c *gin.Context) {
	userID := c.GetString(mw.CtxUserID)

	n := notification.Notification{
		Title: "Test notification",
		Body:  "Push notifications are working on this device.",
		URL:   "/dashboard/settings",
	}

	summary, err := h.dispatcher.SendToUser(c.Request.Context(), userID, n)
	if err != nil {
		h.writeSendError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) writeSendError(c *gin.Context, err error) {
	var vErr *notification.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "fields": vErr.Fields})
	case errors.Is(err, notification.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, notification.ErrNoSubscriptions):
		c.JSON(http.StatusNotFound, gin.H{"error": "no active subscriptions for user"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

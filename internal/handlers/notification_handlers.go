package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

//
// --- Notification Handlers ---
//

// GetMyNotifications is the handler for GET /v1/notifications. Unread
// notifications come first, newest first.
func (h *Handlers) GetMyNotifications(c *gin.Context) {
	list, err := h.Inbox.List(c.Request.Context(), caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// MarkNotificationAsRead is the handler for PATCH /v1/notifications/:id/read.
// Only the owner can mark a notification.
func (h *Handlers) MarkNotificationAsRead(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Inbox.MarkRead(c.Request.Context(), caller(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

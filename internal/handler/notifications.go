package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance-portal/internal/notification"
)

func (h *Handler) ListNotifications(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []notification.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	n, err := h.notifications.UnreadCount(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// ResolveNotification approves or denies an overwrite request addressed to
// the caller.
func (h *Handler) ResolveNotification(c *gin.Context) {
	var req struct {
		Decision notification.Decision `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.notifications.Resolve(c.Request.Context(), c.Param("id"), req.Decision, actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkNotificationRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteNotification(c *gin.Context) {
	if err := h.notifications.Delete(c.Request.Context(), c.Param("id"), actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAllNotifications(c *gin.Context) {
	n, err := h.notifications.DeleteAll(c.Request.Context(), actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

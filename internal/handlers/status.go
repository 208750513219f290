package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/call-signaling/internal/hub"
)

// Health reports process status and the current registry and tracker sizes
func Health(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"users":       stats.Users,
			"activeCalls": stats.ActiveCalls,
		})
	}
}

// ListUsers returns every online identity (admin only)
func ListUsers(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := h.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": snap.Users, "count": snap.Stats.Users})
	}
}

// ListCalls returns every active call session (admin only)
func ListCalls(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := h.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": snap.Calls, "count": snap.Stats.ActiveCalls})
	}
}

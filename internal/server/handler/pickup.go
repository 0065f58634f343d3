package handler

import (
	"errors"
	"net/http"

	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/aspect-build/morpheus/internal/pickup"
	"github.com/gin-gonic/gin"
)

type pickupRequest struct {
	Token string `json:"token" binding:"required"`
}

// HandlePickup handles POST /pickup. A token works exactly once.
func HandlePickup(store Redeemer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pickupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid or expired pickup token"})
			return
		}

		cred, err := store.Redeem(req.Token)
		if err != nil {
			if errors.Is(err, pickup.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Invalid or expired pickup token"})
				return
			}
			logx.Errorf("pickup failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		logx.Infof("credential picked up for %s:%s", cred.Service(), cred.Scope())
		c.JSON(http.StatusOK, gin.H{"credential": cred.Payload()})
	}
}

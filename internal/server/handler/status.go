package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/gin-gonic/gin"
)

// probeTimeout bounds the vault check behind /status and /health.
const probeTimeout = 45 * time.Second

const healthTimeFormat = "2006-01-02 15:04:05 UTC"

func listServices(ctx context.Context, services ServiceLister) ([]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	names, err := services.ListServices(ctx)
	if err != nil {
		logx.Errorf("failed to get vault services: %v", err)
		return []string{}, false
	}
	if names == nil {
		names = []string{}
	}
	return names, true
}

// HandleStatus handles GET /status.
func HandleStatus(services ServiceLister, chat Connectivity) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, vaultOK := listServices(c.Request.Context(), services)
		c.JSON(http.StatusOK, gin.H{
			"status":            "online",
			"services":          names,
			"vault_connected":   vaultOK,
			"discord_connected": chat.Connected(),
		})
	}
}

// HandleHealth handles GET /health. It needs no API key.
func HandleHealth(services ServiceLister, chat Connectivity) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, vaultOK := listServices(c.Request.Context(), services)

		vaultStatus := connection(vaultOK)
		discordStatus := connection(chat.Connected())
		overall := "degraded"
		if vaultOK && chat.Connected() {
			overall = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":         overall,
			"timestamp":      time.Now().UTC().Format(healthTimeFormat),
			"vault_status":   vaultStatus,
			"discord_status": discordStatus,
		})
	}
}

func connection(ok bool) string {
	if ok {
		return "connected"
	}
	return "disconnected"
}

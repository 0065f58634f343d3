package handler

import (
	"net/http"
	"strconv"

	"github.com/aspect-build/morpheus/internal/audit"
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/gin-gonic/gin"
)

// HandleAudit handles GET /audit?limit=N.
func HandleAudit(reader AuditReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := audit.DefaultRecentLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}

		entries, err := reader.Recent(c.Request.Context(), limit)
		if err != nil {
			logx.Errorf("list audit entries: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

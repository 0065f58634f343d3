package server

import (
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/aspect-build/morpheus/internal/server/handler"
	"github.com/gin-gonic/gin"
)

// Per-client request budgets, per minute.
const (
	StatusRatePerMinute  = 5
	RequestRatePerMinute = 10
	PickupRatePerMinute  = 10
	AuditRatePerMinute   = 30
)

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(deps handler.Deps, cfg *Config) *gin.Engine {
	r := gin.Default()

	// Rate limits and auth logs key on ClientIP, so forwarding headers are
	// only honoured from configured proxies.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logx.Warnf("invalid trusted proxies %v, trusting none: %v", cfg.TrustedProxies, err)
		_ = r.SetTrustedProxies(nil)
	}

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	auth := APIKeyAuth(cfg.APIKey)

	r.GET("/health", handler.HandleHealth(deps.Services, deps.Chat))
	r.GET("/status", NewRateLimiter(StatusRatePerMinute).Middleware(), auth,
		handler.HandleStatus(deps.Services, deps.Chat))
	r.POST("/request", NewRateLimiter(RequestRatePerMinute).Middleware(), auth,
		handler.HandleRequest(deps.Gatekeeper))
	r.POST("/pickup", NewRateLimiter(PickupRatePerMinute).Middleware(), auth,
		handler.HandlePickup(deps.Pickups))
	if deps.Audit != nil {
		r.GET("/audit", NewRateLimiter(AuditRatePerMinute).Middleware(), auth,
			handler.HandleAudit(deps.Audit))
	}

	return r
}

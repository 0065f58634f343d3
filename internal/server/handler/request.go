package handler

import (
	"net/http"

	"github.com/aspect-build/morpheus/internal/gatekeeper"
	"github.com/aspect-build/morpheus/internal/logx"
	"github.com/gin-gonic/gin"
)

type credentialRequest struct {
	Service string `json:"service" binding:"required,min=1,max=100"`
	Scope   string `json:"scope" binding:"required,min=1,max=100"`
	Reason  string `json:"reason" binding:"required,min=10,max=500"`
}

type credentialResponse struct {
	Service     string `json:"service"`
	Scope       string `json:"scope"`
	RequestID   string `json:"request_id"`
	Approved    bool   `json:"approved"`
	PickupToken string `json:"pickup_token,omitempty"`
	Message     string `json:"message"`
}

// HandleRequest handles POST /request. It blocks until the request is
// approved, denied, or times out.
func HandleRequest(gk Gatekeeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req credentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		logx.Infof("credential request %s:%s from %s", req.Service, req.Scope, c.ClientIP())

		out, err := gk.Handle(c.Request.Context(), gatekeeper.Request{
			Service: req.Service,
			Scope:   req.Scope,
			Reason:  req.Reason,
		})
		if err != nil {
			logx.Errorf("request %s: error processing request: %v", out.RequestID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, credentialResponse{
			Service:     req.Service,
			Scope:       req.Scope,
			RequestID:   out.RequestID,
			Approved:    out.Approved,
			PickupToken: out.PickupToken,
			Message:     out.Message,
		})
	}
}

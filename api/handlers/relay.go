// Package handlers provides HTTP API request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bubblechat/core/internal/relay"
)

// RelayHandler exposes the chat relay WebSocket endpoint over HTTP.
type RelayHandler struct {
	relayHandler *relay.Handler
}

// NewRelayHandler creates a new RelayHandler.
func NewRelayHandler(relayHandler *relay.Handler) *RelayHandler {
	return &RelayHandler{relayHandler: relayHandler}
}

// Attach handles WS /ws - joins the chat room.
func (h *RelayHandler) Attach(c *gin.Context) {
	if err := h.relayHandler.HandleConnection(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "websocket upgrade failed: " + err.Error(),
		})
	}
}

// RegisterRoutes registers the relay routes on a Gin router group.
func (h *RelayHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Attach)
}

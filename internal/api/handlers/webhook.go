package handlers

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leyline/core/internal/services"
)

// maxPushBody bounds the Pub/Sub envelope read from the request
const maxPushBody = 1 << 20

// Deliverer runs one webhook delivery
type Deliverer interface {
	HandleDelivery(ctx context.Context, body []byte) services.Outcome
}

// WebhookHandler receives Gmail push notifications
type WebhookHandler struct {
	pipeline Deliverer
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(pipeline Deliverer) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline}
}

// Receive fetches and stores the latest message. The push body is only logged;
// the reply is {"message": ...} with 200 unless credentials could not be refreshed.
// POST /webhooks/gmail
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		log.Printf("[Webhook] Failed to read push body: %v", err)
		body = nil
	}

	outcome := h.pipeline.HandleDelivery(c.Request.Context(), body)
	c.JSON(outcome.StatusCode(), gin.H{"message": outcome.Message})
}

// HealthCheck reports liveness
// GET /health
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

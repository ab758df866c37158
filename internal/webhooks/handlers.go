package webhooks

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/txpulse/internal/logging"
	"github.com/mbd888/txpulse/internal/transactions"
)

// Handler provides HTTP endpoints for the alert webhook
type Handler struct {
	notifier *Notifier
}

// NewHandler creates a new webhook handler
func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.Status)
	r.POST("/webhooks/test", h.SendTest)
}

// Status handles GET /api/webhooks
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"webhook": h.notifier.Stats(),
	})
}

// SendTest handles POST /api/webhooks/test by delivering a synthetic event
// synchronously, so operators can verify their endpoint and signature check.
func (h *Handler) SendTest(c *gin.Context) {
	ev := newEvent(EventTest, transactions.Transaction{
		ID:        "TXN_TEST",
		Type:      transactions.TypeCreditCard,
		Merchant:  "Webhook Test",
		Category:  "test",
		Amount:    decimal.Zero,
		Status:    transactions.StatusPending,
		RiskLevel: transactions.RiskHigh,
	})

	if err := h.notifier.Deliver(c.Request.Context(), ev); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrCircuitOpen) {
			status = http.StatusServiceUnavailable
		}
		logging.L(c.Request.Context()).Warn("webhook test delivery failed", "error", err)
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"delivery": ev.ID,
	})
}

package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/payment"
)

const maxCallbackBytes = 64 << 10

// ListPaymentGateways is the handler for GET /v1/payment-gateways
func (h *Handlers) ListPaymentGateways(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"gateways": h.Gateways.List()})
}

// PlisioWebhook is the handler for POST /v1/payments/plisio/webhook. It
// verifies the callback and routes it to the order, top-up or crypto trade
// named by its order_number. Replays are acknowledged without effect.
func (h *Handlers) PlisioWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. --- Crypto must be enabled ---
	if h.PlisioSecret == "" {
		h.respondError(c, apperr.NotFound("Crypto payments are disabled"))
		return
	}

	// 2. --- Read & verify the callback ---
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBytes))
	if err != nil {
		h.respondError(c, apperr.Wrap(err, apperr.KindValidation, "Unreadable callback body"))
		return
	}
	cb, err := payment.VerifyPlisioCallback(body, h.PlisioSecret)
	if err != nil {
		h.Log.Warnw("plisio callback rejected", "error", err)
		h.respondError(c, err)
		return
	}
	if cb.Event == payment.EventIgnored {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	// 3. --- Route by order number ---
	kind, id, err := payment.ParseOrderNumber(cb.OrderNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var applied bool
	switch kind {
	case payment.RefOrder:
		applied, err = h.Orders.ApplyPaymentEvent(ctx, id, cb.Event, cb.TxnID)
	case payment.RefTopup:
		applied, err = h.Topups.ApplyPaymentEvent(ctx, id, cb.Event, cb.TxnID)
	case payment.RefCrypto:
		applied, err = h.Crypto.ApplyPaymentEvent(ctx, id, cb.Event)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 4. --- Acknowledge ---
	h.Log.Infow("plisio callback",
		"order_number", cb.OrderNumber, "status", cb.Status, "event", cb.Event.String(), "applied", applied)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "applied": applied})
}

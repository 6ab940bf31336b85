package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/models"
)

//
// --- Customer Dashboard Stats ---
//

type DashboardStats struct {
	ledger.Balances
	AwaitingPayment  int `json:"awaiting_payment"`
	AwaitingReview   int `json:"awaiting_review"`
	ProcessingOrders int `json:"processing_orders"`
	CompletedOrders  int `json:"completed_orders"`
}

// GetDashboardStats returns KPI data for the customer dashboard
// GET /v1/dashboard
func (h *Handlers) GetDashboardStats(c *gin.Context) {
	ctx := c.Request.Context()
	userID := caller(c)

	// 1. Balances
	balances, err := h.Ledger.Balances(ctx, h.DB, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	stats := DashboardStats{Balances: balances}

	// 2. Order counts by lifecycle stage
	rows, err := h.DB.QueryContext(ctx, `
		SELECT payment_status, order_status, COUNT(*)
		FROM orders
		WHERE user_id = ?
		GROUP BY payment_status, order_status`, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p models.PaymentStatus
			o models.OrderStatus
			n int
		)
		if err := rows.Scan(&p, &o, &n); err != nil {
			h.respondError(c, err)
			return
		}
		switch {
		case p == models.PaymentPending:
			stats.AwaitingPayment += n
		case p == models.PaymentPendingVerification:
			stats.AwaitingReview += n
		case o == models.OrderProcessing:
			stats.ProcessingOrders += n
		case o == models.OrderCompleted:
			stats.CompletedOrders += n
		}
	}
	if err := rows.Err(); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

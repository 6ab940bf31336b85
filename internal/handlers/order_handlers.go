package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/orders"
)

//
// --- Customer order handlers ---
//

// Checkout is the handler for POST /v1/orders
func (h *Handlers) Checkout(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input orders.CheckoutInput
	if !h.bindJSON(c, &input) {
		return
	}

	// 2. --- Create the order ---
	order, err := h.Orders.Checkout(c.Request.Context(), caller(c), input)
	if err != nil {
		// The order is committed even when the invoice provider fails.
		if order != nil && errors.Is(err, apperr.ErrExternalGateway) {
			h.respondWithRecord(c, err, "order_id", order.ID)
			return
		}
		h.respondError(c, err)
		return
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

type quoteInput struct {
	Items      []orders.CheckoutItem `json:"items" binding:"required,min=1,max=50,dive"`
	CouponCode string                `json:"coupon_code" binding:"max=64"`
}

// QuoteOrder is the handler for POST /v1/orders/quote. It prices a cart
// without creating anything.
func (h *Handlers) QuoteOrder(c *gin.Context) {
	var input quoteInput
	if !h.bindJSON(c, &input) {
		return
	}
	quote, err := h.Orders.Quote(c.Request.Context(), input.Items, input.CouponCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// GetMyOrders is the handler for GET /v1/orders
func (h *Handlers) GetMyOrders(c *gin.Context) {
	limit, offset, ok := h.page(c)
	if !ok {
		return
	}
	list, err := h.Orders.ListForUser(c.Request.Context(), caller(c), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// GetOrderDetails is the handler for GET /v1/orders/:id. Customers only
// see their own orders; admins see any.
func (h *Handlers) GetOrderDetails(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.loadOrder(c, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// SubmitOrderProof is the handler for POST /v1/orders/:id/proof
func (h *Handlers) SubmitOrderProof(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input orders.ProofInput
	if !h.bindJSON(c, &input) {
		return
	}
	order, err := h.Orders.SubmitProof(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CreateOrderInvoice is the handler for POST /v1/orders/:id/invoice. It
// retries invoice creation for a pending crypto order.
func (h *Handlers) CreateOrderInvoice(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.Orders.CreateInvoice(c.Request.Context(), caller(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder is the handler for POST /v1/orders/:id/cancel
func (h *Handlers) CancelOrder(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	order, err := h.Orders.Cancel(c.Request.Context(), caller(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

//
// --- Admin order handlers ---
//

// SetOrderStatus is the handler for PUT /v1/orders/:id/status
func (h *Handlers) SetOrderStatus(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input orders.StatusInput
	if !h.bindJSON(c, &input) {
		return
	}
	if input.PaymentStatus == "" && input.OrderStatus == "" {
		h.respondError(c, apperr.Validation("payment_status or order_status is required"))
		return
	}
	order, err := h.Orders.AdminSetStatus(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// DeliverOrder is the handler for PUT /v1/orders/:id/delivery
func (h *Handlers) DeliverOrder(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input orders.DeliveryInput
	if !h.bindJSON(c, &input) {
		return
	}
	order, err := h.Orders.Deliver(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

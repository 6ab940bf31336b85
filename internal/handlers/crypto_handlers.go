package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/cryptotx"
)

// BuyCrypto is the handler for POST /v1/crypto/buy
func (h *Handlers) BuyCrypto(c *gin.Context) {
	var input cryptotx.BuyInput
	if !h.bindJSON(c, &input) {
		return
	}
	tx, err := h.Crypto.Buy(c.Request.Context(), caller(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// SellCrypto is the handler for POST /v1/crypto/sell
func (h *Handlers) SellCrypto(c *gin.Context) {
	var input cryptotx.SellInput
	if !h.bindJSON(c, &input) {
		return
	}
	tx, err := h.Crypto.Sell(c.Request.Context(), caller(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// ListCryptoTransactions is the handler for GET /v1/crypto/transactions.
// Customers see their own trades; admins see all or filter by user_id.
func (h *Handlers) ListCryptoTransactions(c *gin.Context) {
	limit, offset, ok := h.page(c)
	if !ok {
		return
	}
	f := cryptotx.Filter{
		Status:    c.Query("status"),
		TradeType: c.Query("trade_type"),
		Limit:     limit,
		Offset:    offset,
	}
	if h.isAdmin(c) {
		if f.UserID, ok = h.optionalUserID(c); !ok {
			return
		}
	} else {
		f.UserID = caller(c)
	}

	list, err := h.Crypto.List(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

// SetCryptoStatus is the handler for PUT /v1/crypto/transactions/:id/status
func (h *Handlers) SetCryptoStatus(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input cryptotx.StatusInput
	if !h.bindJSON(c, &input) {
		return
	}
	tx, err := h.Crypto.UpdateStatus(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ConfirmCryptoReceipt is the handler for POST
// /v1/crypto/transactions/:id/confirm. Confirming twice is a no-op.
func (h *Handlers) ConfirmCryptoReceipt(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	changed, err := h.Crypto.ConfirmReceipt(c.Request.Context(), caller(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	tx, err := h.Crypto.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx, "changed": changed})
}

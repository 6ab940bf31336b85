package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/withdrawals"
)

//
// --- Referral withdrawals ---
//

// RequestWithdrawal is the handler for POST /v1/withdrawals/request. The
// amount leaves the referral balance immediately and comes back if an
// admin rejects the request.
func (h *Handlers) RequestWithdrawal(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input withdrawals.RequestInput
	if !h.bindJSON(c, &input) {
		return
	}

	// 2. --- Debit and record ---
	w, err := h.Withdrawals.Request(c.Request.Context(), caller(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusCreated, gin.H{"withdrawal": w})
}

// GetWithdrawalRequests is the handler for GET /v1/withdrawals?status=
func (h *Handlers) GetWithdrawalRequests(c *gin.Context) {
	limit, offset, ok := h.page(c)
	if !ok {
		return
	}
	userID := caller(c)
	if h.isAdmin(c) {
		if userID, ok = h.optionalUserID(c); !ok {
			return
		}
	}

	list, err := h.Withdrawals.List(c.Request.Context(), userID, c.Query("status"), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": list})
}

// ProcessWithdrawalRequest is the handler for PUT /v1/withdrawals/:id/status
func (h *Handlers) ProcessWithdrawalRequest(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input withdrawals.StatusInput
	if !h.bindJSON(c, &input) {
		return
	}
	w, err := h.Withdrawals.UpdateStatus(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

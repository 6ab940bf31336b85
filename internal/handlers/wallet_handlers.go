package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/adjust"
	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/topups"
)

//
// --- Balances & history ---
//

// GetWalletBalance is the handler for GET /v1/wallet/balance. Admins may
// pass user_id to read another account.
func (h *Handlers) GetWalletBalance(c *gin.Context) {
	// 1. --- Whose balance ---
	userID, ok := h.subject(c)
	if !ok {
		return
	}

	// 2. --- Read all three ledgers ---
	balances, err := h.Ledger.Balances(c.Request.Context(), h.DB, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusOK, gin.H{
		"user_id":          userID,
		"wallet_balance":   balances.Wallet,
		"referral_balance": balances.Referral,
		"credits_balance":  balances.Credits,
	})
}

// GetWalletTransactions is the handler for GET /v1/wallet/transactions?ledger=
func (h *Handlers) GetWalletTransactions(c *gin.Context) {
	userID, ok := h.subject(c)
	if !ok {
		return
	}
	limit, offset, ok := h.page(c)
	if !ok {
		return
	}

	var l ledger.Ledger
	if raw := c.Query("ledger"); raw != "" {
		parsed, err := ledger.Parse(raw)
		if err != nil {
			h.respondError(c, err)
			return
		}
		l = parsed
	}

	entries, err := h.Ledger.Entries(c.Request.Context(), h.DB, userID, l, limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "transactions": entries})
}

//
// --- Top-ups ---
//

// CreateTopup is the handler for POST /v1/wallet/topups
func (h *Handlers) CreateTopup(c *gin.Context) {
	var input topups.TopupInput
	if !h.bindJSON(c, &input) {
		return
	}
	topup, err := h.Topups.CreateTopup(c.Request.Context(), caller(c), input)
	if err != nil {
		if topup != nil && errors.Is(err, apperr.ErrExternalGateway) {
			h.respondWithRecord(c, err, "topup_id", topup.ID)
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"topup": topup})
}

// SubmitTopupProof is the handler for POST /v1/wallet/topups/:id/proof
func (h *Handlers) SubmitTopupProof(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input topups.ProofInput
	if !h.bindJSON(c, &input) {
		return
	}
	topup, err := h.Topups.SubmitTopupProof(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topup": topup})
}

// ListTopups is the handler for GET /v1/wallet/topups. Admins see every
// account unless user_id is given.
func (h *Handlers) ListTopups(c *gin.Context) {
	f, ok := h.ledgerFilter(c)
	if !ok {
		return
	}
	list, err := h.Topups.ListTopups(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topups": list})
}

// SetTopupStatus is the handler for PUT /v1/wallet/topups/:id/status
func (h *Handlers) SetTopupStatus(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input topups.TopupStatusInput
	if !h.bindJSON(c, &input) {
		return
	}
	topup, err := h.Topups.SetTopupStatus(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"topup": topup})
}

// ledgerFilter scopes a listing: customers get their own rows, admins get
// all rows or the user_id they ask for.
func (h *Handlers) ledgerFilter(c *gin.Context) (topups.Filter, bool) {
	limit, offset, ok := h.page(c)
	if !ok {
		return topups.Filter{}, false
	}
	f := topups.Filter{Status: c.Query("status"), Limit: limit, Offset: offset}
	if !h.isAdmin(c) {
		f.UserID = caller(c)
		return f, true
	}
	f.UserID, ok = h.optionalUserID(c)
	return f, ok
}

//
// --- Admin adjustments ---
//

// WalletAdminAdjust is the handler for POST /v1/wallet/admin-adjust. The
// ledger defaults to wallet and may be referral.
func (h *Handlers) WalletAdminAdjust(c *gin.Context) {
	var input adjust.Input
	if !h.bindJSON(c, &input) {
		return
	}
	switch input.Ledger {
	case "":
		input.Ledger = string(ledger.Wallet)
	case string(ledger.Wallet), string(ledger.Referral):
	default:
		h.respondError(c, apperr.Validation("ledger must be wallet or referral"))
		return
	}
	h.adjust(c, input)
}

type creditsAdjustInput struct {
	Identifier string `json:"identifier" binding:"required,max=255"`
	Credits    *int64 `json:"credits"`
	Amount     string `json:"amount"`
	Action     string `json:"action" binding:"required,oneof=credit debit add subtract"`
	Reason     string `json:"reason" binding:"required,max=1000"`
	Override   bool   `json:"override"`
}

// CreditsAdminAdjust is the handler for POST /v1/credits/admin-adjust.
// The quantity may come as "credits" or "amount".
func (h *Handlers) CreditsAdminAdjust(c *gin.Context) {
	var body creditsAdjustInput
	if !h.bindJSON(c, &body) {
		return
	}
	amount := body.Amount
	if body.Credits != nil {
		amount = strconv.FormatInt(*body.Credits, 10)
	}
	if amount == "" {
		h.respondError(c, apperr.Validation("credits is required"))
		return
	}
	h.adjust(c, adjust.Input{
		Identifier: body.Identifier,
		Ledger:     string(ledger.Credits),
		Action:     body.Action,
		Amount:     amount,
		Reason:     body.Reason,
		Override:   body.Override,
	})
}

func (h *Handlers) adjust(c *gin.Context, input adjust.Input) {
	result, err := h.Adjust.Adjust(c.Request.Context(), caller(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

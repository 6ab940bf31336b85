package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/topups"
)

// CreateTransfer is the handler for POST /v1/transfers
func (h *Handlers) CreateTransfer(c *gin.Context) {
	var input topups.TransferInput
	if !h.bindJSON(c, &input) {
		return
	}
	transfer, err := h.Topups.CreateTransfer(c.Request.Context(), caller(c), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transfer": transfer})
}

// SubmitTransferProof is the handler for POST /v1/transfers/:id/proof
func (h *Handlers) SubmitTransferProof(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input topups.ProofInput
	if !h.bindJSON(c, &input) {
		return
	}
	transfer, err := h.Topups.SubmitTransferProof(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer": transfer})
}

// ListTransfers is the handler for GET /v1/transfers
func (h *Handlers) ListTransfers(c *gin.Context) {
	f, ok := h.ledgerFilter(c)
	if !ok {
		return
	}
	list, err := h.Topups.ListTransfers(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": list})
}

// SetTransferStatus is the handler for PUT /v1/transfers/:id/status
func (h *Handlers) SetTransferStatus(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input topups.TransferStatusInput
	if !h.bindJSON(c, &input) {
		return
	}
	transfer, err := h.Topups.SetTransferStatus(c.Request.Context(), caller(c), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer": transfer})
}

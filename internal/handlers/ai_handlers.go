package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/apperr"
)

// AskInput is the body of POST /v1/admin/assistant.
type AskInput struct {
	Question string `json:"question" binding:"required,max=2000"`
}

// AskAssistant answers a back-office question through the read-only SQL
// tool.
func (h *Handlers) AskAssistant(c *gin.Context) {
	// 1. --- The assistant is optional ---
	if h.Assistant == nil {
		h.respondError(c, apperr.NotFound("The assistant is not configured"))
		return
	}

	// 2. --- Parse Input ---
	var input AskInput
	if !h.bindJSON(c, &input) {
		return
	}

	// 3. --- Ask ---
	answer, err := h.Assistant.Ask(c.Request.Context(), caller(c), input.Question)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/users"
)

// Register is the handler for POST /v1/auth/register.
func (h *Handlers) Register(c *gin.Context) {
	// 1. --- Bind & Validate JSON ---
	var input users.RegisterInput
	if !h.bindJSON(c, &input) {
		return
	}

	// 2. --- Create the account ---
	user, err := h.Users.Register(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login is the handler for POST /v1/auth/login.
func (h *Handlers) Login(c *gin.Context) {
	var input users.LoginInput
	if !h.bindJSON(c, &input) {
		return
	}

	session, err := h.Users.Login(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Me is the handler for GET /v1/profile/me.
func (h *Handlers) Me(c *gin.Context) {
	user, err := h.Users.Get(c.Request.Context(), caller(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

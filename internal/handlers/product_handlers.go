package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/catalog"
	"github.com/01moynul/storefront-ledger/internal/coupon"
	"github.com/01moynul/storefront-ledger/internal/money"
)

//
// --- Storefront catalog ---
//

// ListProducts is the handler for GET /v1/products?kind=
func (h *Handlers) ListProducts(c *gin.Context) {
	products, err := h.Catalog.List(c.Request.Context(), c.Query("kind"), false)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// GetProduct is the handler for GET /v1/products/:slug
func (h *Handlers) GetProduct(c *gin.Context) {
	product, err := h.Catalog.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

//
// --- Admin product CRUD ---
//

// AdminListProducts is the handler for GET /v1/admin/products. Inactive
// products are included.
func (h *Handlers) AdminListProducts(c *gin.Context) {
	products, err := h.Catalog.List(c.Request.Context(), c.Query("kind"), true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

// CreateProduct is the handler for POST /v1/admin/products
func (h *Handlers) CreateProduct(c *gin.Context) {
	var input catalog.ProductInput
	if !h.bindJSON(c, &input) {
		return
	}
	product, err := h.Catalog.Create(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// UpdateProduct is the handler for PUT /v1/admin/products/:id
func (h *Handlers) UpdateProduct(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input catalog.ProductInput
	if !h.bindJSON(c, &input) {
		return
	}
	product, err := h.Catalog.Update(c.Request.Context(), id, input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

type activeInput struct {
	Active *bool `json:"active" binding:"required"`
}

// SetProductActive is the handler for PATCH /v1/admin/products/:id/active
func (h *Handlers) SetProductActive(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}
	var input activeInput
	if !h.bindJSON(c, &input) {
		return
	}
	product, err := h.Catalog.SetActive(c.Request.Context(), id, *input.Active)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

//
// --- Coupons ---
//

// ValidateCoupon is the handler for GET /v1/coupons/validate?code=&amount=
func (h *Handlers) ValidateCoupon(c *gin.Context) {
	// 1. --- Read the query ---
	code := c.Query("code")
	if code == "" {
		h.respondError(c, apperr.Validation("code is required"))
		return
	}
	amount, err := money.Parse(c.Query("amount"))
	if err != nil || amount <= 0 {
		h.respondError(c, apperr.Validation("amount must be a positive amount"))
		return
	}

	// 2. --- Quote the discount ---
	quote, err := h.Coupons.Validate(c.Request.Context(), h.DB, code, amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

// ListCoupons is the handler for GET /v1/admin/coupons
func (h *Handlers) ListCoupons(c *gin.Context) {
	coupons, err := h.Coupons.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

// CreateCoupon is the handler for POST /v1/admin/coupons
func (h *Handlers) CreateCoupon(c *gin.Context) {
	var input coupon.CreateInput
	if !h.bindJSON(c, &input) {
		return
	}
	created, err := h.Coupons.Create(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"coupon": created})
}

// SetCouponActive is the handler for PATCH /v1/admin/coupons/:code/active
func (h *Handlers) SetCouponActive(c *gin.Context) {
	var input activeInput
	if !h.bindJSON(c, &input) {
		return
	}
	code := coupon.Normalize(c.Param("code"))
	if err := h.Coupons.SetActive(c.Request.Context(), code, *input.Active); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "active": *input.Active})
}

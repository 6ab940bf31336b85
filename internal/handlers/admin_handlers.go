package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/orders"
	"github.com/01moynul/storefront-ledger/internal/reports"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportLimit caps the rows of one spreadsheet export.
const (
	exportLimit = 10000
	exportPage  = 500
)

func (h *Handlers) loadOrder(c *gin.Context, id int64) (*models.Order, error) {
	if h.isAdmin(c) {
		return h.Orders.Get(c.Request.Context(), id)
	}
	return h.Orders.GetForUser(c.Request.Context(), caller(c), id)
}

// orderFilter reads the admin order filters from the query string.
func (h *Handlers) orderFilter(c *gin.Context) (orders.Filter, bool) {
	userID, ok := h.optionalUserID(c)
	if !ok {
		return orders.Filter{}, false
	}
	limit, offset, ok := h.page(c)
	if !ok {
		return orders.Filter{}, false
	}
	return orders.Filter{
		UserID:        userID,
		PaymentStatus: c.Query("payment_status"),
		OrderStatus:   c.Query("order_status"),
		Limit:         limit,
		Offset:        offset,
	}, true
}

// AdminListOrders is the handler for GET /v1/admin/orders
func (h *Handlers) AdminListOrders(c *gin.Context) {
	// 1. --- Build the filter ---
	f, ok := h.orderFilter(c)
	if !ok {
		return
	}

	// 2. --- Query ---
	list, err := h.Orders.ListAll(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 3. --- Send Success Response ---
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// ExportOrders is the handler for GET /v1/admin/orders/export. It takes
// the same filters as AdminListOrders and returns an xlsx workbook.
func (h *Handlers) ExportOrders(c *gin.Context) {
	// 1. --- Build the filter ---
	f, ok := h.orderFilter(c)
	if !ok {
		return
	}

	// 2. --- Collect every matching order, a page at a time ---
	f.Limit, f.Offset = exportPage, 0
	var all []models.Order
	for len(all) < exportLimit {
		list, err := h.Orders.ListAll(c.Request.Context(), f)
		if err != nil {
			h.respondError(c, err)
			return
		}
		all = append(all, list...)
		if len(list) < f.Limit {
			break
		}
		f.Offset += f.Limit
	}

	// 3. --- Stream the workbook ---
	name := fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Header("Content-Type", xlsxContentType)
	if err := reports.WriteOrders(c.Writer, all); err != nil {
		if !c.Writer.Written() {
			h.respondError(c, err)
			return
		}
		h.Log.Errorw("write orders export", "error", err)
	}
}

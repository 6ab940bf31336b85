// Package handlers exposes the storefront services over gin.
package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/01moynul/storefront-ledger/internal/adjust"
	"github.com/01moynul/storefront-ledger/internal/ai"
	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/catalog"
	"github.com/01moynul/storefront-ledger/internal/coupon"
	"github.com/01moynul/storefront-ledger/internal/cryptotx"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/middleware"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/notify"
	"github.com/01moynul/storefront-ledger/internal/orders"
	"github.com/01moynul/storefront-ledger/internal/payment"
	"github.com/01moynul/storefront-ledger/internal/topups"
	"github.com/01moynul/storefront-ledger/internal/users"
	"github.com/01moynul/storefront-ledger/internal/withdrawals"
)

// Handlers holds every service the HTTP layer calls into.
type Handlers struct {
	DB          *sql.DB
	Log         *logger.Logger
	Ledger      *ledger.Store
	Users       *users.Service
	Catalog     *catalog.Service
	Coupons     *coupon.Engine
	Gateways    *payment.Gateways
	Orders      *orders.Service
	Crypto      *cryptotx.Service
	Topups      *topups.Service
	Withdrawals *withdrawals.Service
	Adjust      *adjust.Service
	Inbox       *notify.Inbox
	Assistant   *ai.Assistant // nil when the assistant is disabled

	// PlisioSecret verifies payment callbacks. Empty disables the webhook.
	PlisioSecret string

	// UploadDir holds proof screenshots served under PublicBaseURL/uploads.
	UploadDir     string
	PublicBaseURL string
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// respondError renders err as {"detail", "code"}. Internal errors are
// logged and never leak their cause.
func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.Log.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"detail": apperr.Detail(err), "code": kind})
}

// respondWithRecord renders an error that came back together with a
// committed record, such as an order whose invoice could not be created.
func (h *Handlers) respondWithRecord(c *gin.Context, err error, key string, id int64) {
	kind := apperr.KindOf(err)
	h.Log.Warnw("record committed with error", "path", c.FullPath(), key, id, "error", err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{"detail": apperr.Detail(err), "code": kind, key: id})
}

// bindJSON binds and validates the request body, rendering a 400 on
// failure.
func (h *Handlers) bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respondError(c, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := toSnake(fe.Field())
		switch fe.Tag() {
		case "required":
			return apperr.Validationf("%s is required", field)
		case "oneof":
			return apperr.Validationf("%s must be one of: %s", field, fe.Param())
		case "email":
			return apperr.Validationf("%s must be a valid email address", field)
		case "min", "max", "gt", "gte", "lt", "lte":
			return apperr.Validationf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return apperr.Validationf("%s is invalid", field)
	}
	return apperr.Wrap(err, apperr.KindValidation, "Malformed request body")
}

// toSnake turns a Go field name such as PaymentMethod into payment_method.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// idParam reads a positive integer path parameter.
func (h *Handlers) idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, apperr.Validationf("Invalid %s", name))
		return 0, false
	}
	return id, true
}

// page reads limit and offset query parameters.
func (h *Handlers) page(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultLimit, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(c, apperr.Validation("limit must be a positive integer"))
			return 0, 0, false
		}
		limit = n
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.respondError(c, apperr.Validation("offset must not be negative"))
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// caller returns the authenticated user id. Auth middleware always sets
// it on protected routes.
func caller(c *gin.Context) int64 {
	id, _ := middleware.UserID(c)
	return id
}

// subject returns whose data a request is about: the caller, or the
// user_id query parameter when the caller is an admin.
func (h *Handlers) subject(c *gin.Context) (int64, bool) {
	raw := c.Query("user_id")
	if raw == "" || !h.isAdmin(c) {
		return caller(c), true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, apperr.Validation("Invalid user_id"))
		return 0, false
	}
	return id, true
}

// isAdmin confirms an admin token against the stored role.
func (h *Handlers) isAdmin(c *gin.Context) bool {
	if !middleware.IsAdmin(c) {
		return false
	}
	role, err := h.Users.Role(c.Request.Context(), caller(c))
	return err == nil && role == models.RoleAdmin
}

// optionalUserID reads the user_id filter on admin listings.
func (h *Handlers) optionalUserID(c *gin.Context) (int64, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, apperr.Validation("Invalid user_id"))
		return 0, false
	}
	return id, true
}

// Ping is the liveness probe.
func (h *Handlers) Ping(c *gin.Context) {
	if err := h.DB.PingContext(c.Request.Context()); err != nil {
		h.respondError(c, fmt.Errorf("ping database: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pong!"})
}

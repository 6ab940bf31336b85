package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

const (
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"
)

// Coupon is the model for the 'coupons' table.
//
// DiscountValue is stored in hundredths for both types: a fixed coupon of
// 20.00 takes 20 off, a percent coupon of 10.00 takes 10% off.
type Coupon struct {
	ID             int64        `json:"id" db:"id"`
	Code           string       `json:"code" db:"code"`
	DiscountType   string       `json:"discount_type" db:"discount_type"`
	DiscountValue  money.Amount `json:"discount_value" db:"discount_value"`
	MinOrderAmount money.Amount `json:"min_order_amount" db:"min_order_amount"`
	UsageLimit     *int         `json:"usage_limit" db:"usage_limit"`
	UsedCount      int          `json:"used_count" db:"used_count"`
	Active         bool         `json:"active" db:"active"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

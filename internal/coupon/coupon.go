// Package coupon validates discount codes and records their redemption.
package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
)

// Quote is the result of validating a code against a subtotal.
type Quote struct {
	Code           string       `json:"code"`
	Subtotal       money.Amount `json:"subtotal"`
	DiscountAmount money.Amount `json:"discount_amount"`
	Total          money.Amount `json:"total"`
}

type Engine struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

func NewEngine(db *sql.DB, log *logger.Logger) *Engine {
	return &Engine{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Normalize trims and upper-cases a code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Discount computes the discount a coupon grants on subtotal. The result
// never exceeds the subtotal.
func Discount(c *models.Coupon, subtotal money.Amount) money.Amount {
	if subtotal <= 0 {
		return 0
	}
	var d money.Amount
	switch c.DiscountType {
	case models.DiscountPercent:
		// DiscountValue is a percentage in hundredths, i.e. basis points.
		d = subtotal.MulBasisPoints(c.DiscountValue.Cents())
	case models.DiscountFixed:
		d = c.DiscountValue
	}
	if d < 0 {
		return 0
	}
	return money.Min(d, subtotal)
}

func invalid(message string) error {
	return apperr.New(apperr.KindCouponInvalid, message)
}

// Validate checks a code against a subtotal. It never changes used_count.
func (e *Engine) Validate(ctx context.Context, q database.Querier, code string, subtotal money.Amount) (Quote, error) {
	code = Normalize(code)
	if code == "" {
		return Quote{}, invalid("Coupon code is required")
	}

	c, err := e.find(ctx, q, code)
	if err != nil {
		return Quote{}, err
	}
	if !c.Active {
		return Quote{}, invalid("Coupon is not active")
	}
	if subtotal < c.MinOrderAmount {
		return Quote{}, invalid(fmt.Sprintf("Minimum order amount for this coupon is %s", c.MinOrderAmount))
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return Quote{}, invalid("Coupon usage limit reached")
	}

	d := Discount(c, subtotal)
	return Quote{Code: c.Code, Subtotal: subtotal, DiscountAmount: d, Total: subtotal - d}, nil
}

// Redeem consumes one use of code for orderID. Calling it again for the same
// order is a no-op. With enforceLimit the redemption fails when the usage
// limit has been reached since the code was validated.
func (e *Engine) Redeem(ctx context.Context, tx *sql.Tx, code string, orderID int64, enforceLimit bool) error {
	c, err := e.find(ctx, tx, Normalize(code))
	if err != nil {
		return err
	}

	var existing int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM coupon_redemptions WHERE order_id = ?", orderID).Scan(&existing); err != nil {
		return fmt.Errorf("check redemption: %w", err)
	}
	if existing > 0 {
		return nil
	}

	now := e.now()
	query := "UPDATE coupons SET used_count = used_count + 1, updated_at = ? WHERE id = ?"
	if enforceLimit {
		query += " AND (usage_limit IS NULL OR used_count < usage_limit)"
	}
	res, err := tx.ExecContext(ctx, query, now, c.ID)
	if err != nil {
		return fmt.Errorf("increment used_count: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return invalid("Coupon usage limit reached")
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO coupon_redemptions (coupon_id, order_id, created_at) VALUES (?, ?, ?)",
		c.ID, orderID, now); err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}

	e.log.Infow("coupon redeemed", "code", c.Code, "order_id", orderID)
	return nil
}

const couponColumns = `id, code, discount_type, discount_value, min_order_amount, usage_limit, used_count, active, created_at, updated_at`

func scanCoupon(row interface{ Scan(...interface{}) error }) (*models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MinOrderAmount,
		&c.UsageLimit, &c.UsedCount, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (e *Engine) find(ctx context.Context, q database.Querier, code string) (*models.Coupon, error) {
	c, err := scanCoupon(q.QueryRowContext(ctx, "SELECT "+couponColumns+" FROM coupons WHERE code = ?", code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, invalid("Coupon code not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load coupon: %w", err)
	}
	return c, nil
}

// CreateInput is the admin payload for a new coupon.
type CreateInput struct {
	Code           string       `json:"code" binding:"required,max=64"`
	DiscountType   string       `json:"discount_type" binding:"required,oneof=percent fixed"`
	DiscountValue  money.Amount `json:"discount_value" binding:"required,gt=0"`
	MinOrderAmount money.Amount `json:"min_order_amount"`
	UsageLimit     *int         `json:"usage_limit"`
	Active         *bool        `json:"active"`
}

func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Coupon, error) {
	code := Normalize(in.Code)
	if code == "" {
		return nil, apperr.Validation("Coupon code is required")
	}
	if in.DiscountType == models.DiscountPercent && in.DiscountValue > money.FromUnits(100) {
		return nil, apperr.Validation("Percent discount cannot exceed 100")
	}
	if in.MinOrderAmount < 0 {
		return nil, apperr.Validation("Minimum order amount cannot be negative")
	}
	if in.UsageLimit != nil && *in.UsageLimit < 0 {
		return nil, apperr.Validation("Usage limit cannot be negative")
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	var exists int
	if err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM coupons WHERE code = ?", code).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check coupon code: %w", err)
	}
	if exists > 0 {
		return nil, apperr.New(apperr.KindAlreadyExists, "Coupon code already exists")
	}

	now := e.now()
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO coupons (code, discount_type, discount_value, min_order_amount, usage_limit, used_count, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		code, in.DiscountType, in.DiscountValue, in.MinOrderAmount, in.UsageLimit, active, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert coupon: %w", err)
	}
	id, _ := res.LastInsertId()

	return scanCoupon(e.db.QueryRowContext(ctx, "SELECT "+couponColumns+" FROM coupons WHERE id = ?", id))
}

func (e *Engine) List(ctx context.Context) ([]models.Coupon, error) {
	rows, err := e.db.QueryContext(ctx, "SELECT "+couponColumns+" FROM coupons ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []models.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

func (e *Engine) SetActive(ctx context.Context, code string, active bool) error {
	res, err := e.db.ExecContext(ctx, "UPDATE coupons SET active = ?, updated_at = ? WHERE code = ?", active, e.now(), Normalize(code))
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	n, err := database.RowsChanged(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("Coupon not found")
	}
	return nil
}

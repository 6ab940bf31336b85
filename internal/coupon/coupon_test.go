package coupon

import (
	"context"
	"database/sql"
	"testing"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/database/dbtest"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
)

func TestDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   models.Coupon
		subtotal money.Amount
		want     money.Amount
	}{
		{"percent 10 on 50", models.Coupon{DiscountType: models.DiscountPercent, DiscountValue: money.FromUnits(10)}, money.FromUnits(50), money.FromUnits(5)},
		{"fixed 20 on 15 is capped", models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(20)}, money.FromUnits(15), money.FromUnits(15)},
		{"fixed 5 on 15", models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(5)}, money.FromUnits(15), money.FromUnits(5)},
		{"percent rounds half up", models.Coupon{DiscountType: models.DiscountPercent, DiscountValue: money.FromCents(1250)}, money.FromCents(1004), money.FromCents(126)},
		{"percent 100 is the subtotal", models.Coupon{DiscountType: models.DiscountPercent, DiscountValue: money.FromUnits(100)}, money.FromCents(999), money.FromCents(999)},
		{"zero subtotal", models.Coupon{DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(5)}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Discount(&tt.coupon, tt.subtotal); got != tt.want {
				t.Errorf("Discount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func newEngine(t *testing.T) (*Engine, *sql.DB) {
	db := dbtest.New(t)
	return NewEngine(db, logger.NewNop()), db
}

func create(t *testing.T, e *Engine, in CreateInput) *models.Coupon {
	t.Helper()
	c, err := e.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func TestValidateDoesNotConsume(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	create(t, e, CreateInput{Code: "save10", DiscountType: models.DiscountPercent, DiscountValue: money.FromUnits(10)})

	for i := 0; i < 2; i++ {
		q, err := e.Validate(ctx, db, " SAVE10 ", money.FromUnits(50))
		if err != nil {
			t.Fatalf("Validate #%d: %v", i+1, err)
		}
		if q.Code != "SAVE10" || q.DiscountAmount != money.FromUnits(5) || q.Total != money.FromUnits(45) {
			t.Fatalf("quote = %+v", q)
		}
	}

	if n := dbtest.Count(t, db, "SELECT used_count FROM coupons WHERE code = 'SAVE10'"); n != 0 {
		t.Errorf("used_count = %d, want 0", n)
	}
}

func TestValidateRejects(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	limit := 1
	inactive := false
	create(t, e, CreateInput{Code: "MIN20", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(2), MinOrderAmount: money.FromUnits(20)})
	create(t, e, CreateInput{Code: "OFF", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(2), Active: &inactive})
	full := create(t, e, CreateInput{Code: "ONCE", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(2), UsageLimit: &limit})

	if err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		return e.Redeem(ctx, tx, full.Code, 1, true)
	}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	for _, code := range []string{"MIN20", "OFF", "ONCE", "NOPE", ""} {
		_, err := e.Validate(ctx, e.db, code, money.FromUnits(10))
		if apperr.KindOf(err) != apperr.KindCouponInvalid {
			t.Errorf("Validate(%q) error = %v, want CouponInvalid", code, err)
		}
	}
}

func TestRedeemOncePerOrder(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	limit := 2
	c := create(t, e, CreateInput{Code: "TWICE", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(1), UsageLimit: &limit})

	redeem := func(orderID int64) error {
		return database.WithTx(ctx, db, func(tx *sql.Tx) error {
			return e.Redeem(ctx, tx, c.Code, orderID, true)
		})
	}

	for i := 0; i < 3; i++ {
		if err := redeem(10); err != nil {
			t.Fatalf("redeem order 10 (#%d): %v", i+1, err)
		}
	}
	if n := dbtest.Count(t, db, "SELECT used_count FROM coupons WHERE id = ?", c.ID); n != 1 {
		t.Fatalf("used_count = %d, want 1", n)
	}

	if err := redeem(11); err != nil {
		t.Fatalf("redeem order 11: %v", err)
	}
	if err := redeem(12); apperr.KindOf(err) != apperr.KindCouponInvalid {
		t.Fatalf("redeem past limit error = %v, want CouponInvalid", err)
	}
	if n := dbtest.Count(t, db, "SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ?", c.ID); n != 2 {
		t.Errorf("redemptions = %d, want 2", n)
	}
}

func TestRedeemWithoutLimitEnforcement(t *testing.T) {
	e, db := newEngine(t)
	ctx := context.Background()
	limit := 1
	c := create(t, e, CreateInput{Code: "QUOTED", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(1), UsageLimit: &limit})

	for _, orderID := range []int64{1, 2} {
		if err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
			return e.Redeem(ctx, tx, c.Code, orderID, false)
		}); err != nil {
			t.Fatalf("redeem order %d: %v", orderID, err)
		}
	}
	if n := dbtest.Count(t, db, "SELECT used_count FROM coupons WHERE id = ?", c.ID); n != 2 {
		t.Errorf("used_count = %d, want 2", n)
	}
}

func TestAdminOperations(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	create(t, e, CreateInput{Code: "dup", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(1)})

	if _, err := e.Create(ctx, CreateInput{Code: "DUP", DiscountType: models.DiscountFixed, DiscountValue: money.FromUnits(1)}); apperr.KindOf(err) != apperr.KindAlreadyExists {
		t.Errorf("duplicate create error = %v", err)
	}
	if _, err := e.Create(ctx, CreateInput{Code: "BIG", DiscountType: models.DiscountPercent, DiscountValue: money.FromUnits(101)}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("percent > 100 error = %v", err)
	}

	if err := e.SetActive(ctx, "dup", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := e.SetActive(ctx, "missing", false); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("SetActive missing error = %v", err)
	}

	list, err := e.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Active {
		t.Errorf("list = %+v", list)
	}
}

package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
)

func TestWriteOrders(t *testing.T) {
	code := "SAVE10"
	orders := []models.Order{{
		ID:             7,
		UserID:         3,
		PaymentMethod:  "wallet",
		PaymentStatus:  models.PaymentPaid,
		OrderStatus:    models.OrderCompleted,
		Subtotal:       money.FromUnits(50),
		DiscountAmount: money.FromUnits(5),
		TotalAmount:    money.FromUnits(45),
		CouponCode:     &code,
		CreatedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Items:          []models.OrderItem{{ProductName: "Steam 50", Quantity: 1}},
	}}

	var buf bytes.Buffer
	if err := WriteOrders(&buf, orders); err != nil {
		t.Fatalf("WriteOrders: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(ordersSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0][0] != "Order ID" || rows[1][0] != "7" || rows[1][9] != "SAVE10" || rows[1][10] != "1x Steam 50" {
		t.Fatalf("row = %v", rows[1])
	}
	total, err := f.GetCellValue(ordersSheet, "I2", excelize.Options{RawCellValue: true})
	if err != nil || total != "45" {
		t.Fatalf("total cell = %q, %v", total, err)
	}
}

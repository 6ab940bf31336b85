// Package reports renders admin exports.
package reports

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/01moynul/storefront-ledger/internal/models"
)

const ordersSheet = "Orders"

var orderHeaders = []string{
	"Order ID", "User ID", "Created (UTC)", "Payment Method", "Payment Status", "Order Status",
	"Subtotal", "Discount", "Total", "Coupon", "Items", "Delivered (UTC)", "Completed Without Delivery",
}

// OrdersWorkbook builds a one-sheet workbook with a row per order. Money
// cells hold numbers in currency units so they sum in a spreadsheet.
func OrdersWorkbook(orders []models.Order) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), ordersSheet); err != nil {
		f.Close()
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		f.Close()
		return nil, err
	}

	row := make([]interface{}, len(orderHeaders))
	for i, h := range orderHeaders {
		row[i] = h
	}
	if err := f.SetSheetRow(ordersSheet, "A1", &row); err != nil {
		f.Close()
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(orderHeaders), 1)
	if err := f.SetCellStyle(ordersSheet, "A1", last, header); err != nil {
		f.Close()
		return nil, err
	}

	for i, o := range orders {
		r := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, r)
		values := []interface{}{
			o.ID, o.UserID, o.CreatedAt.UTC().Format(time.DateTime), o.PaymentMethod,
			string(o.PaymentStatus), string(o.OrderStatus),
			units(o.Subtotal.Cents()), units(o.DiscountAmount.Cents()), units(o.TotalAmount.Cents()),
			deref(o.CouponCode), itemSummary(o.Items), delivered(o.DeliveryInfo), o.CompletedWithoutDelivery,
		}
		if err := f.SetSheetRow(ordersSheet, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
		from, _ := excelize.CoordinatesToCellName(7, r)
		to, _ := excelize.CoordinatesToCellName(9, r)
		if err := f.SetCellStyle(ordersSheet, from, to, money); err != nil {
			f.Close()
			return nil, err
		}
	}

	_ = f.SetColWidth(ordersSheet, "C", "C", 20)
	_ = f.SetColWidth(ordersSheet, "K", "K", 40)
	return f, nil
}

// WriteOrders streams the orders workbook to w.
func WriteOrders(w io.Writer, orders []models.Order) error {
	f, err := OrdersWorkbook(orders)
	if err != nil {
		return fmt.Errorf("build orders workbook: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write orders workbook: %w", err)
	}
	return nil
}

func units(cents int64) float64 { return float64(cents) / 100 }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func delivered(d *models.DeliveryInfo) string {
	if d == nil {
		return ""
	}
	return d.DeliveredAt.UTC().Format(time.DateTime)
}

func itemSummary(items []models.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, it.ProductName))
	}
	return strings.Join(parts, ", ")
}

// Package orders implements checkout and the order lifecycle across the
// payment_status and order_status axes.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/coupon"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/logger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/notify"
	"github.com/01moynul/storefront-ledger/internal/payment"
)

type Service struct {
	db          *sql.DB
	ledger      *ledger.Store
	coupons     *coupon.Engine
	gateways    *payment.Gateways
	invoices    payment.InvoiceProvider // nil when crypto is disabled
	notifier    notify.Notifier
	log         *logger.Logger
	referralBPS int64
	now         func() time.Time
}

type Deps struct {
	DB       *sql.DB
	Ledger   *ledger.Store
	Coupons  *coupon.Engine
	Gateways *payment.Gateways
	Invoices payment.InvoiceProvider
	Notifier notify.Notifier
	Log      *logger.Logger

	// ReferralRateBPS is the referrer's commission on a paid order, in basis
	// points of the order total.
	ReferralRateBPS int64
}

func NewService(d Deps) *Service {
	n := d.Notifier
	if n == nil {
		n = notify.Discard
	}
	return &Service{
		db:          d.DB,
		ledger:      d.Ledger,
		coupons:     d.Coupons,
		gateways:    d.Gateways,
		invoices:    d.Invoices,
		notifier:    n,
		log:         d.Log,
		referralBPS: d.ReferralRateBPS,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

const orderColumns = `
	id, user_id, payment_method, payment_status, order_status,
	subtotal, discount_amount, total_amount, coupon_code,
	proof_transaction_id, proof_screenshot_url, proof_note,
	invoice_id, invoice_url, delivery_details, delivered_at,
	completed_without_delivery, admin_notes, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o                         models.Order
		proofTxID, proofURL, note *string
		deliveryDetails           *string
		deliveredAt               *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.PaymentMethod, &o.PaymentStatus, &o.OrderStatus,
		&o.Subtotal, &o.DiscountAmount, &o.TotalAmount, &o.CouponCode,
		&proofTxID, &proofURL, &note,
		&o.InvoiceID, &o.InvoiceURL, &deliveryDetails, &deliveredAt,
		&o.CompletedWithoutDelivery, &o.AdminNotes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if proofTxID != nil {
		o.PaymentProof = &models.PaymentProof{TransactionID: *proofTxID}
		if proofURL != nil {
			o.PaymentProof.ScreenshotURL = *proofURL
		}
		if note != nil {
			o.PaymentProof.Note = *note
		}
	}
	if deliveredAt != nil {
		o.DeliveryInfo = &models.DeliveryInfo{DeliveredAt: deliveredAt.UTC()}
		if deliveryDetails != nil {
			o.DeliveryInfo.Details = *deliveryDetails
		}
	}
	return &o, nil
}

// load reads one order without its items.
func (s *Service) load(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return o, nil
}

func (s *Service) loadItems(ctx context.Context, q database.Querier, o *models.Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, player_id, credentials, created_at
		FROM order_items WHERE order_id = ? ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	o.Items = []models.OrderItem{}
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity,
			&it.UnitPrice, &it.PlayerID, &it.Credentials, &it.CreatedAt); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*models.Order, error) {
	o, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, s.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetForUser returns the order only if userID owns it.
func (s *Service) GetForUser(ctx context.Context, userID, id int64) (*models.Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperr.NotFound("Order not found")
	}
	return o, nil
}

// Filter narrows ListAll.
type Filter struct {
	UserID        int64
	PaymentStatus string
	OrderStatus   string
	Limit         int
	Offset        int
}

func (s *Service) list(ctx context.Context, f Filter) ([]models.Order, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, f.PaymentStatus)
	}
	if f.OrderStatus != "" {
		where = append(where, "order_status = ?")
		args = append(args, f.OrderStatus)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	list := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		list = append(list, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range list {
		if err := s.loadItems(ctx, s.db, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *Service) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, error) {
	return s.list(ctx, Filter{UserID: userID, Limit: limit, Offset: offset})
}

func (s *Service) ListAll(ctx context.Context, f Filter) ([]models.Order, error) {
	return s.list(ctx, f)
}

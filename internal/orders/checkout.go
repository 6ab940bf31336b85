package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/coupon"
	"github.com/01moynul/storefront-ledger/internal/database"
	"github.com/01moynul/storefront-ledger/internal/ledger"
	"github.com/01moynul/storefront-ledger/internal/models"
	"github.com/01moynul/storefront-ledger/internal/money"
	"github.com/01moynul/storefront-ledger/internal/payment"
)

// CheckoutItem is one line of a checkout request.
type CheckoutItem struct {
	ProductID   int64  `json:"product_id" binding:"required,gt=0"`
	Quantity    int    `json:"quantity" binding:"required,min=1,max=100"`
	PlayerID    string `json:"player_id" binding:"max=255"`
	Credentials string `json:"credentials" binding:"max=4000"`
}

// CheckoutInput is the body of POST /orders.
type CheckoutInput struct {
	Items         []CheckoutItem `json:"items" binding:"required,min=1,max=50,dive"`
	PaymentMethod string         `json:"payment_method" binding:"required"`
	CouponCode    string         `json:"coupon_code" binding:"max=64"`
}

type pricedItem struct {
	CheckoutItem
	name      string
	unitPrice money.Amount
}

// Checkout creates an order. Wallet orders (and orders whose total is zero)
// are paid inside the same transaction; if the debit fails nothing is
// persisted. Crypto orders get an invoice after the order is committed; when
// the provider fails the committed order is returned together with an
// ExternalGatewayError.
func (s *Service) Checkout(ctx context.Context, userID int64, in CheckoutInput) (*models.Order, error) {
	// 1. --- Resolve the payment rail ---
	method, err := s.gateways.Resolve(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation("Order must contain at least one item")
	}

	var orderID int64
	paidNow := false
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// 2. --- Price the cart from the catalog ---
		items, subtotal, err := s.price(ctx, tx, in.Items)
		if err != nil {
			return err
		}

		// 3. --- Apply the coupon ---
		var (
			discount   money.Amount
			couponCode interface{}
		)
		if strings.TrimSpace(in.CouponCode) != "" {
			quote, err := s.coupons.Validate(ctx, tx, in.CouponCode, subtotal)
			if err != nil {
				return err
			}
			discount = quote.DiscountAmount
			couponCode = quote.Code
		}
		total := subtotal - discount

		// 4. --- Insert the order and its items ---
		now := s.now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders
			(user_id, payment_method, payment_status, order_status, subtotal, discount_amount, total_amount,
			 coupon_code, completed_without_delivery, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, FALSE, ?, ?)`,
			userID, method.Name, string(models.PaymentPending), string(models.OrderPending),
			subtotal, discount, total, couponCode, now, now)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		orderID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("order id: %w", err)
		}

		for _, it := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, player_id, credentials, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				orderID, it.ProductID, it.name, it.Quantity, it.unitPrice,
				nullString(it.PlayerID), nullString(it.Credentials), now); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		// 5. --- Pay from the wallet ---
		if method.Kind != payment.KindWallet && total > 0 {
			return nil
		}
		if total > 0 {
			if _, err := s.ledger.Debit(ctx, tx, userID, ledger.Wallet, total,
				fmt.Sprintf("Payment for order #%d", orderID), ledger.OrderRef(orderID), false); err != nil {
				return err
			}
		}
		o, err := s.load(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.move(ctx, tx, o, stateProcessing, moveOpts{enforceCouponLimit: true}); err != nil {
			return err
		}
		paidNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.log.Infow("order created", "order_id", o.ID, "user_id", userID, "payment_method", o.PaymentMethod,
		"total", o.TotalAmount.String(), "state", o.State().String())

	if paidNow {
		s.notifier.NotifyAdmins(ctx, fmt.Sprintf("New paid order #%d (%s, %s)", o.ID, o.TotalAmount, o.PaymentMethod))
		return o, nil
	}

	// 6. --- Crypto invoice, outside the transaction ---
	if method.Kind == payment.KindCryptoPlisio {
		return s.attachInvoice(ctx, o)
	}
	return o, nil
}

// price loads each product, checks it can be sold and sums the subtotal.
func (s *Service) price(ctx context.Context, q database.Querier, lines []CheckoutItem) ([]pricedItem, money.Amount, error) {
	var (
		items    []pricedItem
		subtotal money.Amount
	)
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, 0, apperr.Validation("Quantity must be at least 1")
		}
		var (
			name             string
			price            money.Amount
			requiresPlayerID bool
			active           bool
		)
		err := q.QueryRowContext(ctx,
			"SELECT name, price, requires_player_id, active FROM products WHERE id = ?", line.ProductID,
		).Scan(&name, &price, &requiresPlayerID, &active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return nil, 0, apperr.Validationf("Product %d is not available", line.ProductID)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("load product: %w", err)
		}
		if requiresPlayerID && strings.TrimSpace(line.PlayerID) == "" {
			return nil, 0, apperr.Validationf("%s requires a player ID", name)
		}

		items = append(items, pricedItem{CheckoutItem: line, name: name, unitPrice: price})
		subtotal += price * money.Amount(line.Quantity)
	}
	return items, subtotal, nil
}

// Quote prices a cart and applies a coupon without creating anything.
func (s *Service) Quote(ctx context.Context, lines []CheckoutItem, couponCode string) (coupon.Quote, error) {
	_, subtotal, err := s.price(ctx, s.db, lines)
	if err != nil {
		return coupon.Quote{}, err
	}
	if strings.TrimSpace(couponCode) == "" {
		return coupon.Quote{Subtotal: subtotal, Total: subtotal}, nil
	}
	return s.coupons.Validate(ctx, s.db, couponCode, subtotal)
}

// CreateInvoice (re)creates the crypto invoice for a pending crypto order.
// An order that already has an invoice returns it unchanged.
func (s *Service) CreateInvoice(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	o, err := s.GetForUser(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != payment.MethodCryptoPlisio {
		return nil, apperr.Validation("Order is not paid by crypto")
	}
	if o.State() != statePending {
		return nil, apperr.IllegalTransitionf("Cannot create an invoice for an order in state %s", o.State())
	}
	if o.InvoiceID != nil {
		return o, nil
	}
	return s.attachInvoice(ctx, o)
}

func (s *Service) attachInvoice(ctx context.Context, o *models.Order) (*models.Order, error) {
	if s.invoices == nil {
		return o, apperr.New(apperr.KindExternalGateway, "Crypto payments are not available")
	}

	var email string
	err := s.db.QueryRowContext(ctx, "SELECT email FROM users WHERE id = ?", o.UserID).Scan(&email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.log.Warnw("load email for invoice", "order_id", o.ID, "user_id", o.UserID, "error", err)
	}

	inv, err := s.invoices.CreateInvoice(ctx, payment.InvoiceRequest{
		OrderNumber: payment.OrderNumber(payment.RefOrder, o.ID),
		OrderName:   fmt.Sprintf("Order #%d", o.ID),
		Amount:      o.TotalAmount,
		Email:       email,
	})
	if err != nil {
		s.log.Warnw("invoice creation failed, order stays pending", "order_id", o.ID, "error", err)
		return o, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE orders SET invoice_id = ?, invoice_url = ?, updated_at = ?
		WHERE id = ? AND payment_status = ? AND order_status = ?`,
		inv.ID, inv.URL, s.now(), o.ID, string(models.PaymentPending), string(models.OrderPending))
	if err != nil {
		return o, fmt.Errorf("store invoice: %w", err)
	}
	o.InvoiceID = &inv.ID
	o.InvoiceURL = &inv.URL
	return o, nil
}

func nullString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

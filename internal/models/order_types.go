package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

// PaymentStatus is shared by orders, top-ups and transfers.
type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "pending"
	PaymentPendingVerification PaymentStatus = "pending_verification"
	PaymentPaid                PaymentStatus = "paid"
	PaymentFailed              PaymentStatus = "failed"
	PaymentCancelled           PaymentStatus = "cancelled"
	PaymentRefunded            PaymentStatus = "refunded"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// OrderState is the joint (payment_status, order_status) of an order.
type OrderState struct {
	Payment PaymentStatus `json:"payment_status"`
	Order   OrderStatus   `json:"order_status"`
}

func (s OrderState) String() string {
	return string(s.Payment) + "/" + string(s.Order)
}

// PaymentProof is what a customer submits for a manual payment rail.
type PaymentProof struct {
	TransactionID string `json:"transaction_id"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
	Note          string `json:"note,omitempty"`
}

// DeliveryInfo is written once, when the order is fulfilled.
type DeliveryInfo struct {
	Details     string    `json:"details"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Order is the model for the 'orders' table
type Order struct {
	ID            int64         `json:"id" db:"id"`
	UserID        int64         `json:"user_id" db:"user_id"`
	PaymentMethod string        `json:"payment_method" db:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status" db:"order_status"`

	Subtotal       money.Amount `json:"subtotal" db:"subtotal"`
	DiscountAmount money.Amount `json:"discount_amount" db:"discount_amount"`
	TotalAmount    money.Amount `json:"total_amount" db:"total_amount"`
	CouponCode     *string      `json:"coupon_code,omitempty" db:"coupon_code"`

	PaymentProof *PaymentProof `json:"payment_proof,omitempty" db:"-"`
	InvoiceID    *string       `json:"invoice_id,omitempty" db:"invoice_id"`
	InvoiceURL   *string       `json:"invoice_url,omitempty" db:"invoice_url"`

	DeliveryInfo             *DeliveryInfo `json:"delivery_info,omitempty" db:"-"`
	CompletedWithoutDelivery bool          `json:"completed_without_delivery" db:"completed_without_delivery"`
	AdminNotes               *string       `json:"admin_notes,omitempty" db:"admin_notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Items []OrderItem `json:"items" db:"-"`
}

func (o *Order) State() OrderState {
	return OrderState{Payment: o.PaymentStatus, Order: o.OrderStatus}
}

// OrderItem is the model for the 'order_items' table
type OrderItem struct {
	ID          int64        `json:"id" db:"id"`
	OrderID     int64        `json:"order_id" db:"order_id"`
	ProductID   int64        `json:"product_id" db:"product_id"`
	ProductName string       `json:"product_name" db:"product_name"`
	Quantity    int          `json:"quantity" db:"quantity"`
	UnitPrice   money.Amount `json:"unit_price" db:"unit_price"` // Price at the time of purchase
	PlayerID    *string      `json:"player_id,omitempty" db:"player_id"`
	Credentials *string      `json:"credentials,omitempty" db:"credentials"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

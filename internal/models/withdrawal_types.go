package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

const (
	WithdrawalCrypto = "crypto"
	WithdrawalPayPal = "paypal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// Withdrawal is the model for the 'withdrawals' table.
// It always draws from the referral balance.
type Withdrawal struct {
	ID          int64            `json:"id" db:"id"`
	UserID      int64            `json:"user_id" db:"user_id"`
	Amount      money.Amount     `json:"amount" db:"amount"`
	Method      string           `json:"method" db:"method"`
	Destination string           `json:"destination" db:"destination"`
	Status      WithdrawalStatus `json:"status" db:"status"`
	AdminNotes  *string          `json:"admin_notes,omitempty" db:"admin_notes"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`

	// Joined for admin listings.
	UserEmail string `json:"user_email,omitempty" db:"-"`
}

package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

// WalletTopup is the model for the 'wallet_topups' table.
// Only Amount is credited to the wallet; Fee is kept by the store.
type WalletTopup struct {
	ID            int64         `json:"id" db:"id"`
	UserID        int64         `json:"user_id" db:"user_id"`
	Amount        money.Amount  `json:"amount" db:"amount"`
	Fee           money.Amount  `json:"fee" db:"fee"`
	Total         money.Amount  `json:"total" db:"total"`
	PaymentMethod string        `json:"payment_method" db:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	PaymentProof  *PaymentProof `json:"payment_proof,omitempty" db:"-"`
	InvoiceID     *string       `json:"invoice_id,omitempty" db:"invoice_id"`
	InvoiceURL    *string       `json:"invoice_url,omitempty" db:"invoice_url"`
	AdminNotes    *string       `json:"admin_notes,omitempty" db:"admin_notes"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCancelled  TransferStatus = "cancelled"
)

// TransferState is the joint (payment_status, transfer_status) of a transfer.
type TransferState struct {
	Payment  PaymentStatus  `json:"payment_status"`
	Transfer TransferStatus `json:"transfer_status"`
}

func (s TransferState) String() string {
	return string(s.Payment) + "/" + string(s.Transfer)
}

// MinutesTransfer is the model for the 'minutes_transfers' table
// (mobile airtime top-up sent to a phone number).
type MinutesTransfer struct {
	ID             int64          `json:"id" db:"id"`
	UserID         int64          `json:"user_id" db:"user_id"`
	PhoneNumber    string         `json:"phone_number" db:"phone_number"`
	Carrier        string         `json:"carrier" db:"carrier"`
	Amount         money.Amount   `json:"amount" db:"amount"`
	Fee            money.Amount   `json:"fee" db:"fee"`
	Total          money.Amount   `json:"total" db:"total"`
	PaymentMethod  string         `json:"payment_method" db:"payment_method"`
	PaymentStatus  PaymentStatus  `json:"payment_status" db:"payment_status"`
	TransferStatus TransferStatus `json:"transfer_status" db:"transfer_status"`
	PaymentProof   *PaymentProof  `json:"payment_proof,omitempty" db:"-"`
	AdminNotes     *string        `json:"admin_notes,omitempty" db:"admin_notes"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

func (m *MinutesTransfer) State() TransferState {
	return TransferState{Payment: m.PaymentStatus, Transfer: m.TransferStatus}
}

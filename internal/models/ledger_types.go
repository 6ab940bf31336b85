package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

// LedgerEntry is the model for the 'ledger_entries' table.
// Rows are never updated; corrections are new offsetting entries.
type LedgerEntry struct {
	ID           int64        `json:"id" db:"id"`
	UserID       int64        `json:"user_id" db:"user_id"`
	Ledger       string       `json:"ledger" db:"ledger"`       // wallet, referral, credits
	Direction    string       `json:"direction" db:"direction"` // credit, debit
	Amount       money.Amount `json:"amount" db:"amount"`
	BalanceAfter money.Amount `json:"balance_after" db:"balance_after"`
	Reason       string       `json:"reason" db:"reason"`
	RefType      string       `json:"ref_type" db:"ref_type"`
	RefID        *int64       `json:"ref_id,omitempty" db:"ref_id"`
	ActorID      *int64       `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

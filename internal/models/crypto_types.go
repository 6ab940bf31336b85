package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

const (
	TradeBuy  = "buy"
	TradeSell = "sell"

	PayoutWallet   = "wallet"
	PayoutExternal = "external"
)

type CryptoStatus string

const (
	CryptoPending    CryptoStatus = "pending"
	CryptoProcessing CryptoStatus = "processing"
	CryptoCompleted  CryptoStatus = "completed"
	CryptoRejected   CryptoStatus = "rejected"
	CryptoFailed     CryptoStatus = "failed"
)

// CryptoTransaction is the model for the 'crypto_transactions' table.
// Buys collect fiat and deliver crypto to WalletAddress. Sells receive
// crypto and pay fiat to the wallet or to ReceivingInfo.
type CryptoTransaction struct {
	ID               int64        `json:"id" db:"id"`
	UserID           int64        `json:"user_id" db:"user_id"`
	TradeType        string       `json:"trade_type" db:"trade_type"`
	Chain            string       `json:"chain" db:"chain"`
	AmountUSD        money.Amount `json:"amount_usd" db:"amount_usd"`
	AmountCrypto     string       `json:"amount_crypto" db:"amount_crypto"`
	PaymentMethod    string       `json:"payment_method" db:"payment_method"`
	FundedFromWallet bool         `json:"funded_from_wallet" db:"funded_from_wallet"`
	PayoutMethod     string       `json:"payout_method,omitempty" db:"payout_method"`
	Status           CryptoStatus `json:"status" db:"status"`
	WalletAddress    *string      `json:"wallet_address,omitempty" db:"wallet_address"`
	ReceivingInfo    *string      `json:"receiving_info,omitempty" db:"receiving_info"`
	ProofReference   *string      `json:"proof_reference,omitempty" db:"proof_reference"`
	TxHash           *string      `json:"tx_hash,omitempty" db:"tx_hash"`
	InvoiceID        *string      `json:"invoice_id,omitempty" db:"invoice_id"`
	InvoiceURL       *string      `json:"invoice_url,omitempty" db:"invoice_url"`
	AdminNotes       *string      `json:"admin_notes,omitempty" db:"admin_notes"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

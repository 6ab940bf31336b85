package models

import (
	"time"

	"github.com/01moynul/storefront-ledger/internal/money"
)

const (
	ProductGiftCard     = "gift_card"
	ProductGameTopup    = "game_topup"
	ProductSubscription = "subscription"
)

// Product is the model for the 'products' table.
type Product struct {
	ID               int64        `json:"id" db:"id"`
	Name             string       `json:"name" db:"name"`
	Slug             string       `json:"slug" db:"slug"`
	Kind             string       `json:"kind" db:"kind"`
	Description      string       `json:"description" db:"description"`
	Price            money.Amount `json:"price" db:"price"`
	RequiresPlayerID bool         `json:"requires_player_id" db:"requires_player_id"`
	Active           bool         `json:"active" db:"active"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

package domain

import "github.com/shopspring/decimal"

type Medicine struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Brand       string          `db:"brand" json:"brand,omitempty"`
	Description string          `db:"description" json:"description,omitempty"`
	SKU         string          `db:"sku" json:"sku,omitempty"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt   string          `db:"created_at" json:"created_at,omitempty"`
}

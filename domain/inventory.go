package domain

// InventoryItem is the stock record for one medicine at one pharmacy.
// Exactly one row exists per (pharmacy, medicine) pair; a missing row
// reads as zero stock.
type InventoryItem struct {
	ID         int64  `db:"id" json:"id"`
	PharmacyID int64  `db:"pharmacy_id" json:"pharmacy_id"`
	MedicineID int64  `db:"medicine_id" json:"medicine_id"`
	Quantity   int64  `db:"quantity" json:"quantity"`
	CreatedAt  string `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt  string `db:"updated_at" json:"updated_at,omitempty"`
}

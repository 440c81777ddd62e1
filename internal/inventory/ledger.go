package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"medipickup/m/domain"
)

// Ledger owns the per-(pharmacy, medicine) stock records. All writes go
// through it; the order service is its only caller for decrements.
type Ledger struct {
	db  *sqlx.DB
	log zerolog.Logger
}

func NewLedger(db *sqlx.DB, log zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: log.With().Str("component", "inventory").Logger()}
}

// Line is one reservation against a single medicine.
type Line struct {
	MedicineID int64 `db:"medicine_id"`
	Quantity   int64 `db:"quantity"`
}

// SetQuantity upserts the stock record for (pharmacyID, medicineID) and
// returns the updated row. Used by admin restocking.
func (l *Ledger) SetQuantity(ctx context.Context, pharmacyID, medicineID, quantity int64) (domain.InventoryItem, error) {
	if quantity < 0 {
		return domain.InventoryItem{}, fmt.Errorf("quantity %d: %w", quantity, domain.ErrInvalidQuantity)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := l.db.ExecContext(ctx, `INSERT INTO inventory (pharmacy_id, medicine_id, quantity, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(pharmacy_id, medicine_id) DO UPDATE SET quantity = excluded.quantity, updated_at = excluded.updated_at`,
		pharmacyID, medicineID, quantity, now, now)
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("upsert inventory: %w", err)
	}
	l.log.Info().Int64("pharmacy", pharmacyID).Int64("medicine", medicineID).
		Int64("quantity", quantity).Msg("stock set")
	return l.Get(ctx, pharmacyID, medicineID)
}

// Reserve decrements stock for every line inside the caller's
// transaction. Each decrement is conditional on sufficient stock; a line
// that would go negative fails with ErrInsufficientStock and the caller
// rolls back, so a multi-line reservation is all-or-nothing and stock
// never drops below zero.
func (l *Ledger) Reserve(ctx context.Context, tx *sqlx.Tx, pharmacyID int64, lines []Line) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, line := range lines {
		res, err := tx.ExecContext(ctx, `UPDATE inventory SET quantity = quantity - ?, updated_at = ?
            WHERE pharmacy_id = ? AND medicine_id = ? AND quantity >= ?`,
			line.Quantity, now, pharmacyID, line.MedicineID, line.Quantity)
		if err != nil {
			return fmt.Errorf("reserve medicine %d: %w", line.MedicineID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reserve medicine %d: %w", line.MedicineID, err)
		}
		if affected == 0 {
			return fmt.Errorf("medicine %d at pharmacy %d: %w", line.MedicineID, pharmacyID, domain.ErrInsufficientStock)
		}
	}
	return nil
}

// Release returns previously reserved stock, used when an order is
// cancelled before pickup. Runs inside the caller's transaction.
func (l *Ledger) Release(ctx context.Context, tx *sqlx.Tx, pharmacyID int64, lines []Line) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, line := range lines {
		res, err := tx.ExecContext(ctx, `UPDATE inventory SET quantity = quantity + ?, updated_at = ?
            WHERE pharmacy_id = ? AND medicine_id = ?`,
			line.Quantity, now, pharmacyID, line.MedicineID)
		if err != nil {
			return fmt.Errorf("release medicine %d: %w", line.MedicineID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("release medicine %d: %w", line.MedicineID, err)
		}
		if affected == 0 {
			// Record was removed after the order was placed; recreate it.
			if _, err := tx.ExecContext(ctx, `INSERT INTO inventory (pharmacy_id, medicine_id, quantity, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?)`, pharmacyID, line.MedicineID, line.Quantity, now, now); err != nil {
				return fmt.Errorf("release medicine %d: %w", line.MedicineID, err)
			}
		}
	}
	return nil
}

// Get returns the stock record for (pharmacyID, medicineID). A missing
// row reads as zero stock.
func (l *Ledger) Get(ctx context.Context, pharmacyID, medicineID int64) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := l.db.GetContext(ctx, &item, `SELECT id, pharmacy_id, medicine_id, quantity, created_at, updated_at
        FROM inventory WHERE pharmacy_id = ? AND medicine_id = ?`, pharmacyID, medicineID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryItem{PharmacyID: pharmacyID, MedicineID: medicineID, Quantity: 0}, nil
	}
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("get inventory: %w", err)
	}
	return item, nil
}

// StockedMedicine is the catalog view for one pharmacy: medicine details
// merged with the current stock level.
type StockedMedicine struct {
	domain.Medicine
	InventoryID int64  `db:"inventory_id" json:"inventory_id"`
	Stock       int64  `db:"stock" json:"stock"`
	UpdatedAt   string `db:"stock_updated_at" json:"stock_updated_at"`
}

// ListByPharmacy returns every stocked medicine at a pharmacy, most
// recently updated first.
func (l *Ledger) ListByPharmacy(ctx context.Context, pharmacyID int64) ([]StockedMedicine, error) {
	var items []StockedMedicine
	err := l.db.SelectContext(ctx, &items, `SELECT m.id, m.name, m.brand, m.description, m.sku, m.unit_price, m.created_at,
            i.id AS inventory_id, i.quantity AS stock, i.updated_at AS stock_updated_at
        FROM inventory i
        JOIN medicines m ON m.id = i.medicine_id
        WHERE i.pharmacy_id = ?
        ORDER BY i.updated_at DESC, i.id DESC`, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

package inventory

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipickup/m/domain"
	"medipickup/m/internal/database"
	"medipickup/m/internal/migrations"
)

func newTestLedger(t *testing.T) (*Ledger, *sqlx.DB) {
	t.Helper()
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	return NewLedger(db, zerolog.Nop()), db
}

func TestSetQuantityUpserts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	item, err := ledger.SetQuantity(ctx, 1, 10, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), item.Quantity)

	item, err = ledger.SetQuantity(ctx, 1, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), item.Quantity)

	// Still a single row for the pair.
	var count int
	require.NoError(t, ledger.db.Get(&count, `SELECT COUNT(*) FROM inventory WHERE pharmacy_id = 1 AND medicine_id = 10`))
	assert.Equal(t, 1, count)
}

func TestSetQuantityRejectsNegative(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.SetQuantity(context.Background(), 1, 10, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestGetMissingRowReadsAsZero(t *testing.T) {
	ledger, _ := newTestLedger(t)
	item, err := ledger.Get(context.Background(), 1, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.Quantity)
}

func TestReserveDecrements(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.SetQuantity(ctx, 1, 10, 50)
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Reserve(ctx, tx, 1, []Line{{MedicineID: 10, Quantity: 3}}))
	require.NoError(t, tx.Commit())

	item, err := ledger.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(47), item.Quantity)
}

func TestReserveInsufficientStockFails(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.SetQuantity(ctx, 1, 10, 2)
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	err = ledger.Reserve(ctx, tx, 1, []Line{{MedicineID: 10, Quantity: 3}})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.NoError(t, tx.Rollback())

	item, err := ledger.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.Quantity)
}

func TestReserveMissingRowFails(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	err = ledger.Reserve(ctx, tx, 1, []Line{{MedicineID: 777, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.NoError(t, tx.Rollback())
}

func TestReserveMultiLineAllOrNothing(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.SetQuantity(ctx, 1, 10, 50)
	require.NoError(t, err)
	_, err = ledger.SetQuantity(ctx, 1, 11, 1)
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	err = ledger.Reserve(ctx, tx, 1, []Line{
		{MedicineID: 10, Quantity: 5},
		{MedicineID: 11, Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.NoError(t, tx.Rollback())

	// The first line's decrement must not survive the rollback.
	item, err := ledger.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(50), item.Quantity)
	item, err = ledger.Get(ctx, 1, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.Quantity)
}

func TestReleaseRestocks(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()
	_, err := ledger.SetQuantity(ctx, 1, 10, 47)
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, tx, 1, []Line{{MedicineID: 10, Quantity: 3}}))
	require.NoError(t, tx.Commit())

	item, err := ledger.Get(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(50), item.Quantity)
}

func TestListByPharmacy(t *testing.T) {
	ledger, db := newTestLedger(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO medicines (id, name, brand, unit_price) VALUES (10, 'Paracetamol', 'Ace', '2.50'), (11, 'Ibuprofen', 'Advil', '5.00')`)
	require.NoError(t, err)
	_, err = ledger.SetQuantity(ctx, 1, 10, 30)
	require.NoError(t, err)
	_, err = ledger.SetQuantity(ctx, 1, 11, 12)
	require.NoError(t, err)
	_, err = ledger.SetQuantity(ctx, 2, 10, 99)
	require.NoError(t, err)

	items, err := ledger.ListByPharmacy(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	byName := map[string]int64{}
	for _, it := range items {
		byName[it.Name] = it.Stock
	}
	assert.Equal(t, int64(30), byName["Paracetamol"])
	assert.Equal(t, int64(12), byName["Ibuprofen"])
}

package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"medipickup/m/domain"
	"medipickup/m/internal/inventory"
	"medipickup/m/internal/notify"
)

// createdAtFormat is fixed-width (nine fractional digits, no trimming)
// so lexicographic ordering of the created_at TEXT column matches
// chronological ordering.
const createdAtFormat = "2006-01-02T15:04:05.000000000Z07:00"

// LineInput is one requested line of a new order. UnitPrice is taken
// from the caller (price-lock at order time); the service deliberately
// does not re-price against the medicine catalog.
type LineInput struct {
	MedicineID int64           `json:"medicine_id"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// Principal is the authenticated actor issuing a request.
type Principal struct {
	UserID int64
	Role   string
}

func (p Principal) Admin() bool { return p.Role == domain.RoleAdmin }

// Service owns all Order and (via the ledger) InventoryItem mutation.
type Service struct {
	db     *sqlx.DB
	ledger *inventory.Ledger
	hub    *notify.Hub
	log    zerolog.Logger
}

func New(db *sqlx.DB, ledger *inventory.Ledger, hub *notify.Hub, log zerolog.Logger) *Service {
	return &Service{db: db, ledger: ledger, hub: hub, log: log.With().Str("component", "orders").Logger()}
}

// Place creates an order in status placed. Order persistence and the
// inventory reservation run in one transaction: if any line cannot be
// reserved the whole order rolls back. The new-order notification to the
// pharmacy channel is best-effort and cannot fail the request.
func (s *Service) Place(ctx context.Context, customerID, pharmacyID int64, items []LineInput, pickupTime *time.Time) (domain.Order, error) {
	if len(items) == 0 {
		return domain.Order{}, domain.ErrEmptyOrder
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("medicine %d: %w", it.MedicineID, domain.ErrInvalidQuantity)
		}
		if it.UnitPrice.IsNegative() {
			return domain.Order{}, fmt.Errorf("medicine %d: %w", it.MedicineID, domain.ErrInvalidPrice)
		}
	}
	if err := s.pharmacyExists(ctx, pharmacyID); err != nil {
		return domain.Order{}, err
	}
	if err := s.medicinesExist(ctx, items); err != nil {
		return domain.Order{}, err
	}

	total := decimal.Zero
	orderItems := make([]domain.OrderItem, len(items))
	lines := make([]inventory.Line, len(items))
	for i, it := range items {
		lineTotal := it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))
		orderItems[i] = domain.OrderItem{
			MedicineID: it.MedicineID,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			LineTotal:  lineTotal,
		}
		lines[i] = inventory.Line{MedicineID: it.MedicineID, Quantity: it.Quantity}
		total = total.Add(lineTotal)
	}

	var pickup *string
	if pickupTime != nil {
		formatted := pickupTime.UTC().Format(time.RFC3339)
		pickup = &formatted
	}
	createdAt := time.Now().UTC().Format(createdAtFormat)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin order transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO orders (customer_id, pharmacy_id, total, status, pickup_time, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`, customerID, pharmacyID, total, domain.StatusPlaced, pickup, createdAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	for _, item := range orderItems {
		if _, err := tx.ExecContext(ctx, `INSERT INTO order_items (order_id, medicine_id, quantity, unit_price, line_total)
            VALUES (?, ?, ?, ?, ?)`, orderID, item.MedicineID, item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			return domain.Order{}, fmt.Errorf("insert order item: %w", err)
		}
	}
	if err := s.ledger.Reserve(ctx, tx, pharmacyID, lines); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit order: %w", err)
	}

	ord, err := s.byID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	s.hub.Publish(notify.PharmacyChannel(pharmacyID), "new-order", map[string]any{
		"message": "New order received",
		"order":   ord,
	})
	s.log.Info().Int64("order", orderID).Int64("customer", customerID).
		Int64("pharmacy", pharmacyID).Str("total", total.String()).Msg("order placed")
	return ord, nil
}

// UpdateStatus applies an admin-issued transition. Illegal transitions
// fail with ErrInvalidTransition and leave the order untouched. Moving
// to cancelled restocks the reserved quantities; moving to ready pushes
// the order-ready notification to the customer channel.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, next domain.Status) (domain.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin status transaction: %w", err)
	}
	defer tx.Rollback()

	var head struct {
		CustomerID int64         `db:"customer_id"`
		PharmacyID int64         `db:"pharmacy_id"`
		Status     domain.Status `db:"status"`
	}
	err = tx.GetContext(ctx, &head, `SELECT customer_id, pharmacy_id, status FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order: %w", err)
	}
	if !next.Valid() || !head.Status.CanTransition(next) {
		return domain.Order{}, fmt.Errorf("%s -> %s: %w", head.Status, next, domain.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, next, orderID); err != nil {
		return domain.Order{}, fmt.Errorf("update status: %w", err)
	}

	if next == domain.StatusCancelled {
		var lines []inventory.Line
		if err := tx.SelectContext(ctx, &lines, `SELECT medicine_id, quantity FROM order_items WHERE order_id = ?`, orderID); err != nil {
			return domain.Order{}, fmt.Errorf("load order items: %w", err)
		}
		if err := s.ledger.Release(ctx, tx, head.PharmacyID, lines); err != nil {
			return domain.Order{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit status: %w", err)
	}

	ord, err := s.byID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	change := domain.StatusChange{OrderID: orderID, PreviousStatus: head.Status, NewStatus: next}
	s.log.Info().Int64("order", change.OrderID).Str("from", string(change.PreviousStatus)).
		Str("to", string(change.NewStatus)).Msg("order status changed")

	if next == domain.StatusReady {
		s.hub.Publish(notify.UserChannel(head.CustomerID), "order-ready", map[string]any{
			"message": "Your order is ready for pickup",
			"order":   ord,
		})
	}
	return ord, nil
}

// Get returns one order. Only admins and the owning customer may see it.
func (s *Service) Get(ctx context.Context, orderID int64, p Principal) (domain.Order, error) {
	ord, err := s.byID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !p.Admin() && p.UserID != ord.CustomerID {
		return domain.Order{}, domain.ErrForbidden
	}
	return ord, nil
}

// ListForCustomer returns a customer's orders, newest first.
func (s *Service) ListForCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	return s.list(ctx, `SELECT id, customer_id, pharmacy_id, total, status, pickup_time, created_at
        FROM orders WHERE customer_id = ? ORDER BY created_at DESC, id DESC`, customerID)
}

// ListForPharmacy returns a pharmacy's orders, newest first.
func (s *Service) ListForPharmacy(ctx context.Context, pharmacyID int64) ([]domain.Order, error) {
	return s.list(ctx, `SELECT id, customer_id, pharmacy_id, total, status, pickup_time, created_at
        FROM orders WHERE pharmacy_id = ? ORDER BY created_at DESC, id DESC`, pharmacyID)
}

func (s *Service) list(ctx context.Context, query string, arg any) ([]domain.Order, error) {
	var orders []domain.Order
	if err := s.db.SelectContext(ctx, &orders, query, arg); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if err := s.resolve(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Service) byID(ctx context.Context, orderID int64) (domain.Order, error) {
	var ord domain.Order
	err := s.db.GetContext(ctx, &ord, `SELECT id, customer_id, pharmacy_id, total, status, pickup_time, created_at
        FROM orders WHERE id = ?`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order: %w", err)
	}
	orders := []domain.Order{ord}
	if err := s.resolve(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

type itemRow struct {
	OrderID        int64           `db:"order_id"`
	ItemID         int64           `db:"item_id"`
	MedicineID     int64           `db:"medicine_id"`
	Quantity       int64           `db:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price"`
	LineTotal      decimal.Decimal `db:"line_total"`
	MedName        string          `db:"med_name"`
	MedBrand       string          `db:"med_brand"`
	MedDescription string          `db:"med_description"`
	MedSKU         string          `db:"med_sku"`
	MedUnitPrice   decimal.Decimal `db:"med_unit_price"`
}

// resolve attaches line items (with medicine details), the customer
// summary and the pharmacy summary to each order, batching the lookups
// across all orders.
func (s *Service) resolve(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	orderIDs := make([]int64, len(orders))
	customerIDs := make([]int64, 0, len(orders))
	pharmacyIDs := make([]int64, 0, len(orders))
	seenCustomer := map[int64]bool{}
	seenPharmacy := map[int64]bool{}
	for i, o := range orders {
		orderIDs[i] = o.ID
		if !seenCustomer[o.CustomerID] {
			seenCustomer[o.CustomerID] = true
			customerIDs = append(customerIDs, o.CustomerID)
		}
		if !seenPharmacy[o.PharmacyID] {
			seenPharmacy[o.PharmacyID] = true
			pharmacyIDs = append(pharmacyIDs, o.PharmacyID)
		}
	}

	itemsQuery, itemsArgs, err := sqlx.In(`SELECT oi.order_id, oi.id AS item_id, oi.medicine_id, oi.quantity, oi.unit_price, oi.line_total,
            m.name AS med_name, m.brand AS med_brand, m.description AS med_description, m.sku AS med_sku, m.unit_price AS med_unit_price
        FROM order_items oi
        JOIN medicines m ON m.id = oi.medicine_id
        WHERE oi.order_id IN (?)
        ORDER BY oi.id`, orderIDs)
	if err != nil {
		return fmt.Errorf("prepare items query: %w", err)
	}
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(itemsQuery), itemsArgs...); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	itemsByOrder := make(map[int64][]domain.OrderItem)
	for _, row := range rows {
		itemsByOrder[row.OrderID] = append(itemsByOrder[row.OrderID], domain.OrderItem{
			ID:         row.ItemID,
			OrderID:    row.OrderID,
			MedicineID: row.MedicineID,
			Quantity:   row.Quantity,
			UnitPrice:  row.UnitPrice,
			LineTotal:  row.LineTotal,
			Medicine: &domain.Medicine{
				ID:          row.MedicineID,
				Name:        row.MedName,
				Brand:       row.MedBrand,
				Description: row.MedDescription,
				SKU:         row.MedSKU,
				UnitPrice:   row.MedUnitPrice,
			},
		})
	}

	customersQuery, customersArgs, err := sqlx.In(`SELECT id, name, email, phone FROM users WHERE id IN (?)`, customerIDs)
	if err != nil {
		return fmt.Errorf("prepare customers query: %w", err)
	}
	var customers []domain.CustomerSummary
	if err := s.db.SelectContext(ctx, &customers, s.db.Rebind(customersQuery), customersArgs...); err != nil {
		return fmt.Errorf("load customers: %w", err)
	}
	customersByID := make(map[int64]domain.CustomerSummary, len(customers))
	for _, c := range customers {
		customersByID[c.ID] = c
	}

	pharmaciesQuery, pharmaciesArgs, err := sqlx.In(`SELECT id, name, address FROM pharmacies WHERE id IN (?)`, pharmacyIDs)
	if err != nil {
		return fmt.Errorf("prepare pharmacies query: %w", err)
	}
	var pharmacies []domain.PharmacySummary
	if err := s.db.SelectContext(ctx, &pharmacies, s.db.Rebind(pharmaciesQuery), pharmaciesArgs...); err != nil {
		return fmt.Errorf("load pharmacies: %w", err)
	}
	pharmaciesByID := make(map[int64]domain.PharmacySummary, len(pharmacies))
	for _, p := range pharmacies {
		pharmaciesByID[p.ID] = p
	}

	for i := range orders {
		o := &orders[i]
		o.Items = itemsByOrder[o.ID]
		if c, ok := customersByID[o.CustomerID]; ok {
			o.Customer = &c
		}
		if p, ok := pharmaciesByID[o.PharmacyID]; ok {
			o.Pharmacy = &p
		}
	}
	return nil
}

func (s *Service) pharmacyExists(ctx context.Context, pharmacyID int64) error {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM pharmacies WHERE id = ?`, pharmacyID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("pharmacy %d: %w", pharmacyID, domain.ErrPharmacyNotFound)
	}
	if err != nil {
		return fmt.Errorf("check pharmacy: %w", err)
	}
	return nil
}

func (s *Service) medicinesExist(ctx context.Context, items []LineInput) error {
	for _, it := range items {
		var one int
		err := s.db.GetContext(ctx, &one, `SELECT 1 FROM medicines WHERE id = ?`, it.MedicineID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("medicine %d: %w", it.MedicineID, domain.ErrMedicineNotFound)
		}
		if err != nil {
			return fmt.Errorf("check medicine: %w", err)
		}
	}
	return nil
}

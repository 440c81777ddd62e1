package domain

import (
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state. Orders start in StatusPlaced and
// advance only through the transitions listed in successors.
type Status string

const (
	StatusPlaced    Status = "placed"
	StatusPacked    Status = "packed"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusCancelled Status = "cancelled"
)

var successors = map[Status][]Status{
	StatusPlaced:    {StatusPacked, StatusReady, StatusCancelled},
	StatusPacked:    {StatusReady, StatusCancelled},
	StatusReady:     {StatusPickedUp, StatusCancelled},
	StatusPickedUp:  nil,
	StatusCancelled: nil,
}

// Valid reports whether s is one of the five known states.
func (s Status) Valid() bool {
	_, ok := successors[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s.Valid() && len(successors[s]) == 0
}

// CanTransition reports whether next is a legal successor of s.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range successors[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem is one medicine line within an order. UnitPrice is captured
// when the order is placed and never re-read from the medicine catalog.
type OrderItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    int64           `db:"order_id" json:"-"`
	MedicineID int64           `db:"medicine_id" json:"medicine_id"`
	Quantity   int64           `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal  decimal.Decimal `db:"line_total" json:"line_total"`
	Medicine   *Medicine       `db:"-" json:"medicine,omitempty"`
}

// Order is a placed pickup order. Total always equals the sum of the
// line totals; it is computed once at creation and never mutated on its
// own. Customer and Pharmacy are resolved summaries attached on reads.
type Order struct {
	ID         int64            `db:"id" json:"id"`
	CustomerID int64            `db:"customer_id" json:"customer_id"`
	PharmacyID int64            `db:"pharmacy_id" json:"pharmacy_id"`
	Items      []OrderItem      `db:"-" json:"items"`
	Total      decimal.Decimal  `db:"total" json:"total"`
	Status     Status           `db:"status" json:"status"`
	PickupTime *string          `db:"pickup_time" json:"pickup_time,omitempty"`
	CreatedAt  string           `db:"created_at" json:"created_at"`
	Customer   *CustomerSummary `db:"-" json:"customer,omitempty"`
	Pharmacy   *PharmacySummary `db:"-" json:"pharmacy,omitempty"`
}

// StatusChange is the domain event emitted for every applied transition.
type StatusChange struct {
	OrderID        int64  `json:"order_id"`
	PreviousStatus Status `json:"previous_status"`
	NewStatus      Status `json:"new_status"`
}

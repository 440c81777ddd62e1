package domain

import "errors"

// Sentinel errors shared by the service and ledger layers. The HTTP
// layer maps them to status codes with errors.Is.
var (
	ErrEmptyOrder        = errors.New("order has no items")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidPrice      = errors.New("invalid unit price")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPharmacyNotFound  = errors.New("pharmacy not found")
	ErrMedicineNotFound  = errors.New("medicine not found")
	ErrForbidden         = errors.New("not authorized for this resource")
)

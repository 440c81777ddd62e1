package domain

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type User struct {
	ID         int64  `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email"`
	Password   string `db:"password" json:"password,omitempty"`
	Role       string `db:"role" json:"role"`
	Phone      string `db:"phone" json:"phone,omitempty"`
	PharmacyID *int64 `db:"pharmacy_id" json:"pharmacy_id,omitempty"`
	CreatedAt  string `db:"created_at" json:"created_at,omitempty"`
}

// CustomerSummary is the slice of a user attached to orders returned to
// pharmacy admins: enough to contact the customer, nothing more.
type CustomerSummary struct {
	ID    int64  `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	Phone string `db:"phone" json:"phone,omitempty"`
}

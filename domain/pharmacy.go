package domain

type Pharmacy struct {
	ID        int64   `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	Address   string  `db:"address" json:"address"`
	Latitude  float64 `db:"latitude" json:"latitude"`
	Longitude float64 `db:"longitude" json:"longitude"`
	OwnerID   *int64  `db:"owner_id" json:"owner_id,omitempty"`
	CreatedAt string  `db:"created_at" json:"created_at"`
}

// PharmacyWithDistance annotates a pharmacy with its distance in meters
// from the point a proximity query was made against.
type PharmacyWithDistance struct {
	Pharmacy
	Distance float64 `json:"distance"`
}

type PharmacySummary struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Address string `db:"address" json:"address"`
}

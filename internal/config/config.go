package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds application configuration values.
type Config struct {
	Secret      string
	DatabaseDSN string
	HTTPPort    string
	MedicineCSV string
}

// Load reads configuration from environment variables with reasonable defaults.
func Load() Config {
	secret := os.Getenv("SECRET")
	if secret == "" {
		secret = "dev_secret"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "4000"
	}

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "file:medipickup.db"
	}

	csvPath := os.Getenv("MEDICINE_CSV")
	if csvPath == "" {
		csvPath = "assets/medicines.csv"
	}

	// Validate that port is numeric.
	if _, err := strconv.Atoi(port); err != nil {
		log.Printf("invalid HTTP_PORT value %q, defaulting to 4000", port)
		port = "4000"
	}

	return Config{Secret: secret, DatabaseDSN: dsn, HTTPPort: port, MedicineCSV: csvPath}
}

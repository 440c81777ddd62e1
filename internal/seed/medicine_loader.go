package seed

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LoadMedicines ingests the CSV catalog into the medicines table,
// ignoring duplicate SKUs. Columns: name, brand, description, sku,
// unit_price. Missing file is not fatal; the catalog can be built
// through the API instead.
func LoadMedicines(db *sqlx.DB, csvPath string, log zerolog.Logger) {
	file, err := os.Open(csvPath)
	if err != nil {
		log.Warn().Err(err).Str("path", csvPath).Msg("medicine catalog not loaded")
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Warn().Err(err).Msg("unable to read medicine header")
		return
	}

	tx, err := db.Beginx()
	if err != nil {
		log.Warn().Err(err).Msg("unable to start medicine seed transaction")
		return
	}
	stmt, err := tx.Preparex(`INSERT INTO medicines (name, brand, description, sku, unit_price)
        SELECT ?, ?, ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM medicines WHERE sku = ? AND sku != '')`)
	if err != nil {
		log.Warn().Err(err).Msg("unable to prepare medicine insert")
		_ = tx.Rollback()
		return
	}
	defer stmt.Close()

	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("unable to read medicine row")
			continue
		}
		if len(record) < 5 {
			continue
		}
		name := strings.TrimSpace(record[0])
		brand := strings.TrimSpace(record[1])
		description := strings.TrimSpace(record[2])
		sku := strings.TrimSpace(record[3])
		price, err := decimal.NewFromString(strings.TrimSpace(record[4]))
		if name == "" || err != nil || price.IsNegative() {
			continue
		}

		if _, err := stmt.Exec(name, brand, description, sku, price, sku); err != nil {
			log.Warn().Err(err).Str("medicine", name).Msg("unable to insert medicine")
		} else {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		log.Warn().Err(err).Msg("unable to commit medicine seed")
		return
	}
	log.Info().Int("rows", rows).Msg("seeded medicine catalog")
}

package migrations

import (
	"github.com/ksred/marketracker-api/internal/types"
	"gorm.io/gorm"
)

// AddCompanyDirectory creates the searchable company table and its indexes
func AddCompanyDirectory(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Company{}); err != nil {
		return err
	}

	// Search compares lower-cased values
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_companies_symbol_lower
		 ON companies(LOWER(symbol))`,

		`CREATE INDEX IF NOT EXISTS idx_companies_name_lower
		 ON companies(LOWER(name))`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}

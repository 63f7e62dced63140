package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrationsList holds all migrations in order.
var migrationsList = []*gormigrate.Migration{
	CreateCoreTables(),
}

// Run applies all pending migrations.
func Run(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)
	return m.Migrate()
}

package models

import (
	"log"

	"gorm.io/gorm"
)

// AutoMigrate creates or updates the license server tables.
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(
		&License{},
		&LicenseCheck{},
		&AdminAction{},
		&ActiveClient{},
	); err != nil {
		return err
	}

	log.Println("Database migrations completed successfully")
	return nil
}

package db

import (
	"fmt"
	"log"

	"patchwatch/internal/model"

	"gorm.io/gorm"
)

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	log.Println("Starting database migration...")

	// List of all models to migrate
	models := []interface{}{
		&model.User{},
		&model.UserSession{},
		&model.HostGroup{},
		&model.Host{},
		&model.Package{},
		&model.HostPackage{},
		&model.Repository{},
		&model.HostRepository{},
		&model.UpdateHistory{},
		&model.AutoEnrollmentToken{},
		&model.Setting{},
		&model.RolePermission{},
		&model.AgentVersion{},
		&model.DashboardPreference{},
	}

	// Run AutoMigrate for all models
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("✓ Database migration completed successfully (%d tables)", len(models))
	return nil
}

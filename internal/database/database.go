package database

import (
	"fmt"

	"github.com/enerdesk/calls-api/internal/database/migrations"
	"github.com/enerdesk/calls-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs schema migrations on an already-open connection. Exposed so
// tests can run against an in-memory database.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.Call{},
		&types.Proposal{},
	)
	if err != nil {
		return err
	}

	if err := migrations.AddProposalIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

package db

import (
	"fmt"
	"os"
)

// TestStore is nil unless InitTestDB ran; integration tests skip
// themselves when it is.
var TestStore Store

// InitTestDB connects to the database named by TEST_DATABASE_URL,
// brings the schema up to date and exposes a Store for integration
// tests. Called from TestMain.
func InitTestDB(migrationsPath string) error {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		return fmt.Errorf("TEST_DATABASE_URL is not set")
	}
	if err := Init(url); err != nil {
		return fmt.Errorf("connect test database: %w", err)
	}
	if err := RunMigrations(migrationsPath); err != nil {
		return fmt.Errorf("migrate test database: %w", err)
	}
	TestStore = NewStore(DB)
	return nil
}

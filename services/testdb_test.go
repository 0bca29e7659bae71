package services

import (
	"database/sql"
	"os"
	"testing"

	"github.com/fenilmodi00/giftlist-backend/database"
	"github.com/fenilmodi00/giftlist-backend/shared"
)

// openTestDB connects to TEST_DATABASE_URL, migrates and empties the tables
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping database tests - TEST_DATABASE_URL not set")
	}

	config := shared.NewDefaultUnifiedConfiguration().Database
	db, err := database.Open(dbURL, &config)
	if err != nil {
		t.Skipf("Skipping database tests - database not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db, "../database/schema.sql"); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	for _, table := range []string{"gifts", "cache_resources", "cache_generations"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("failed to clean %s: %v", table, err)
		}
	}
	return db
}

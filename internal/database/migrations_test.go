package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/kindred/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesEmails(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&users.IdentityRecord{}, &users.AdminRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := users.IdentityRecord{
		ID:         "legacy-1",
		Handle:     "legacy",
		Email:      "  Legacy@Example.COM ",
		SecretHash: "hash",
		Status:     string(users.StatusActive),
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert identity: %v", err)
	}
	admin := users.AdminRecord{ID: "admin-1", Email: "Root@Example.com", SecretHash: "hash"}
	if err := database.Create(&admin).Error; err != nil {
		testContext.Fatalf("failed to insert admin: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored users.IdentityRecord
	if err := database.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload identity: %v", err)
	}
	if stored.Email != "legacy@example.com" {
		testContext.Fatalf("expected normalized email, got %q", stored.Email)
	}

	var storedAdmin users.AdminRecord
	if err := database.Where("id = ?", admin.ID).Take(&storedAdmin).Error; err != nil {
		testContext.Fatalf("failed to reload admin: %v", err)
	}
	if storedAdmin.Email != "root@example.com" {
		testContext.Fatalf("expected normalized admin email, got %q", storedAdmin.Email)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeEmails).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
	if logs.FilterMessage("database migration applied").Len() != 1 {
		testContext.Fatalf("expected one migration log entry")
	}

	if err := applyMigrations(database, zap.New(core)); err != nil {
		testContext.Fatalf("second migration run failed: %v", err)
	}
	if logs.FilterMessage("database migration applied").Len() != 1 {
		testContext.Fatalf("expected applied migrations to be skipped")
	}
}

func TestOpenSQLiteMigratesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "kindred.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open sqlite failed: %v", err)
	}
	for _, table := range []string{"identities", "admin_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %q", table)
		}
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

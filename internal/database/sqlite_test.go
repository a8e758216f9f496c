package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/overlay/internal/outbox"
)

func TestOpenSQLiteCreatesOutboxTables(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "overlay.db")

	database, err := OpenSQLite(databasePath, nil)
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	for _, table := range []string{outbox.ChangesTable, (outbox.Cursor{}).TableName()} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}

func TestOpenPostgresRequiresURL(testContext *testing.T) {
	if _, err := OpenPostgres("  ", nil); err == nil {
		testContext.Fatalf("expected error for empty url")
	}
}

package integration_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/overlay/internal/compiler"
	"github.com/MarcoPoloResearchLab/overlay/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const itemDDL = `CREATE TABLE "item" (id TEXT, name TEXT, CONSTRAINT item_pkey PRIMARY KEY (id));`

// postgresFixture is one isolated schema in the database named by TEST_PG_DSN.
type postgresFixture struct {
	dsn  string
	conn *pgx.Conn
}

func newPostgresFixture(testContext *testing.T) postgresFixture {
	testContext.Helper()
	baseDSN := os.Getenv("TEST_PG_DSN")
	if baseDSN == "" {
		testContext.Skip("TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, baseDSN)
	if err != nil {
		testContext.Fatalf("failed to connect: %v", err)
	}
	schema := "overlay_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	quoted := pgx.Identifier{schema}.Sanitize()
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+quoted); err != nil {
		testContext.Fatalf("failed to create schema: %v", err)
	}
	_ = admin.Close(ctx)
	testContext.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cleanupCancel()
		admin, err := pgx.Connect(cleanupCtx, baseDSN)
		if err != nil {
			return
		}
		defer admin.Close(cleanupCtx) //nolint:errcheck
		_, _ = admin.Exec(cleanupCtx, "DROP SCHEMA "+quoted+" CASCADE")
	})

	dsn := withSearchPath(baseDSN, schema)
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		testContext.Fatalf("failed to connect with search_path: %v", err)
	}
	testContext.Cleanup(func() { _ = conn.Close(context.Background()) })
	return postgresFixture{dsn: dsn, conn: conn}
}

func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		return dsn + separator + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

func compileDDL(testContext *testing.T, source string, variant compiler.OutboxVariant) string {
	testContext.Helper()
	options := compiler.DefaultOptions()
	options.OutboxVariant = variant
	ddlCompiler, err := compiler.New(options)
	if err != nil {
		testContext.Fatalf("failed to build compiler: %v", err)
	}
	return ddlCompiler.Compile(source).SQL
}

// applyItem compiles and applies the item table through the migration ledger.
func (f postgresFixture) applyItem(testContext *testing.T) {
	testContext.Helper()
	applier, err := database.NewApplier(database.ApplierConfig{Database: f.conn})
	if err != nil {
		testContext.Fatalf("failed to build applier: %v", err)
	}
	result, err := applier.Apply(context.Background(), database.Script{Name: "item", SQL: compileDDL(testContext, itemDDL, compiler.OutboxWithTableName)})
	if err != nil {
		testContext.Fatalf("failed to apply script: %v", err)
	}
	if !result.Applied {
		testContext.Fatalf("expected script to be applied on a fresh schema")
	}
}

func (f postgresFixture) exec(testContext *testing.T, sql string, arguments ...any) {
	testContext.Helper()
	if _, err := f.conn.Exec(context.Background(), sql, arguments...); err != nil {
		testContext.Fatalf("exec %q failed: %v", sql, err)
	}
}

func (f postgresFixture) viewName(testContext *testing.T, id string) (string, bool) {
	testContext.Helper()
	var name *string
	err := f.conn.QueryRow(context.Background(), `SELECT name FROM item WHERE id = $1`, id).Scan(&name)
	if err == pgx.ErrNoRows {
		return "", false
	}
	if err != nil {
		testContext.Fatalf("view query failed: %v", err)
	}
	if name == nil {
		return "", true
	}
	return *name, true
}

type localRow struct {
	name           *string
	changedColumns []string
	isDeleted      bool
	writeID        uuid.UUID
}

func (f postgresFixture) local(testContext *testing.T, id string) (localRow, bool) {
	testContext.Helper()
	var row localRow
	err := f.conn.QueryRow(context.Background(),
		`SELECT name, changed_columns, is_deleted, write_id FROM item_local WHERE id = $1`, id).
		Scan(&row.name, &row.changedColumns, &row.isDeleted, &row.writeID)
	if err == pgx.ErrNoRows {
		return localRow{}, false
	}
	if err != nil {
		testContext.Fatalf("local query failed: %v", err)
	}
	return row, true
}

type changeRow struct {
	id        int64
	table     string
	operation string
	value     map[string]any
	writeID   uuid.UUID
}

func (f postgresFixture) changes(testContext *testing.T) []changeRow {
	testContext.Helper()
	rows, err := f.conn.Query(context.Background(),
		`SELECT id, table_name, operation, value, write_id FROM changes ORDER BY id`)
	if err != nil {
		testContext.Fatalf("changes query failed: %v", err)
	}
	defer rows.Close()
	result := make([]changeRow, 0)
	for rows.Next() {
		var row changeRow
		if err := rows.Scan(&row.id, &row.table, &row.operation, &row.value, &row.writeID); err != nil {
			testContext.Fatalf("failed to scan change: %v", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		testContext.Fatalf("changes iteration failed: %v", err)
	}
	return result
}

func describe(value *string) string {
	if value == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%q", *value)
}

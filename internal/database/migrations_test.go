package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeLedger stands in for a Postgres connection; only the calls the Applier
// makes are implemented.
type fakeLedger struct {
	checksums  map[string]string
	statements []string
	failOn     string
	commits    int
	rollbacks  int
}

func (l *fakeLedger) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{ledger: l, pending: map[string]string{}}, nil
}

type fakeTx struct {
	pgx.Tx
	ledger  *fakeLedger
	pending map[string]string
}

func (tx *fakeTx) Exec(_ context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	tx.ledger.statements = append(tx.ledger.statements, sql)
	if tx.ledger.failOn != "" && strings.Contains(sql, tx.ledger.failOn) {
		return pgconn.CommandTag{}, errors.New("syntax error at or near")
	}
	if sql == recordMigrationSQL {
		tx.pending[arguments[0].(string)] = arguments[1].(string)
	}
	return pgconn.CommandTag{}, nil
}

func (tx *fakeTx) QueryRow(_ context.Context, _ string, arguments ...any) pgx.Row {
	checksum, ok := tx.ledger.checksums[arguments[0].(string)]
	return fakeRow{value: checksum, found: ok}
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.ledger.commits++
	for name, checksum := range tx.pending {
		tx.ledger.checksums[name] = checksum
	}
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.ledger.rollbacks++
	return nil
}

type fakeRow struct {
	value string
	found bool
}

func (r fakeRow) Scan(dest ...any) error {
	if !r.found {
		return pgx.ErrNoRows
	}
	*(dest[0].(*string)) = r.value
	return nil
}

func newTestApplier(testContext *testing.T, ledger *fakeLedger) *Applier {
	testContext.Helper()
	applier, err := NewApplier(ApplierConfig{
		Database: ledger,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		testContext.Fatalf("failed to build applier: %v", err)
	}
	return applier
}

func countStatements(statements []string, sql string) int {
	count := 0
	for _, statement := range statements {
		if statement == sql {
			count++
		}
	}
	return count
}

func TestApplierRecordsAndSkipsScripts(testContext *testing.T) {
	ledger := &fakeLedger{checksums: map[string]string{}}
	applier := newTestApplier(testContext, ledger)
	ctx := context.Background()
	script := Script{Name: "schema", SQL: "CREATE TABLE IF NOT EXISTS \"item_synced\" (\"id\" TEXT PRIMARY KEY);"}

	first, err := applier.Apply(ctx, script)
	if err != nil {
		testContext.Fatalf("apply failed: %v", err)
	}
	if !first.Applied || first.Checksum != script.Checksum() {
		testContext.Fatalf("expected script to be applied, got %+v", first)
	}
	if ledger.checksums["schema"] != script.Checksum() {
		testContext.Fatalf("expected ledger to record checksum")
	}
	if statements := ledger.statements; statements[0] != createMigrationsTableSQL || statements[1] != lockMigrationsTableSQL {
		testContext.Fatalf("expected ledger setup before the script, got %v", statements)
	}

	second, err := applier.Apply(ctx, script)
	if err != nil {
		testContext.Fatalf("second apply failed: %v", err)
	}
	if second.Applied {
		testContext.Fatalf("expected unchanged script to be skipped")
	}
	if countStatements(ledger.statements, script.SQL) != 1 {
		testContext.Fatalf("expected script body to run once, statements: %v", ledger.statements)
	}

	changed := Script{Name: "schema", SQL: script.SQL + "\nCREATE TABLE IF NOT EXISTS \"item_local\" (\"id\" TEXT PRIMARY KEY);"}
	third, err := applier.Apply(ctx, changed)
	if err != nil {
		testContext.Fatalf("third apply failed: %v", err)
	}
	if !third.Applied || ledger.checksums["schema"] != changed.Checksum() {
		testContext.Fatalf("expected changed script to be reapplied, got %+v", third)
	}
	if ledger.commits != 3 || ledger.rollbacks != 0 {
		testContext.Fatalf("expected 3 commits and no rollback, got %d/%d", ledger.commits, ledger.rollbacks)
	}
}

func TestApplierRollsBackFailedScript(testContext *testing.T) {
	ledger := &fakeLedger{checksums: map[string]string{}, failOn: "CREATE VIEW"}
	applier := newTestApplier(testContext, ledger)

	_, err := applier.Apply(context.Background(), Script{Name: "broken", SQL: "CREATE VIEW broken AS SELECT;"})
	if err == nil || !strings.Contains(err.Error(), "apply broken") {
		testContext.Fatalf("expected apply error, got %v", err)
	}
	if ledger.rollbacks != 1 || ledger.commits != 0 {
		testContext.Fatalf("expected rollback only, got commits=%d rollbacks=%d", ledger.commits, ledger.rollbacks)
	}
	if _, recorded := ledger.checksums["broken"]; recorded {
		testContext.Fatalf("failed script must not be recorded")
	}
}

func TestApplierValidation(testContext *testing.T) {
	if _, err := NewApplier(ApplierConfig{}); !errors.Is(err, errMissingExecutor) {
		testContext.Fatalf("expected missing executor error, got %v", err)
	}
	applier := newTestApplier(testContext, &fakeLedger{checksums: map[string]string{}})
	testCases := []struct {
		name   string
		script Script
	}{
		{name: "missing name", script: Script{SQL: "SELECT 1;"}},
		{name: "blank body", script: Script{Name: "empty", SQL: "  \n"}},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			if _, err := applier.Apply(context.Background(), testCase.script); !errors.Is(err, ErrInvalidScript) {
				t.Fatalf("expected ErrInvalidScript, got %v", err)
			}
		})
	}
}

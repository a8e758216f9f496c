package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MigrationsTable records every script applied by an Applier.
const MigrationsTable = "overlay_migrations"

const (
	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS "overlay_migrations" (
    "name" TEXT PRIMARY KEY,
    "checksum" TEXT NOT NULL,
    "applied_at_s" BIGINT NOT NULL
)`
	lockMigrationsTableSQL = `LOCK TABLE "overlay_migrations" IN SHARE ROW EXCLUSIVE MODE`
	selectMigrationSQL     = `SELECT "checksum" FROM "overlay_migrations" WHERE "name" = $1`
	recordMigrationSQL     = `INSERT INTO "overlay_migrations" ("name", "checksum", "applied_at_s") VALUES ($1, $2, $3)
ON CONFLICT ("name") DO UPDATE SET "checksum" = EXCLUDED."checksum", "applied_at_s" = EXCLUDED."applied_at_s"`
)

var (
	// ErrInvalidScript indicates a script without a name or body.
	ErrInvalidScript = errors.New("database: invalid script")

	errMissingExecutor = errors.New("database: script executor is required")
)

// TxStarter is satisfied by *pgx.Conn and *pgxpool.Pool.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Script is a named SQL text applied as a unit.
type Script struct {
	Name string
	SQL  string
}

// Checksum identifies the script body in the ledger.
func (s Script) Checksum() string {
	sum := sha256.Sum256([]byte(s.SQL))
	return hex.EncodeToString(sum[:])
}

// ApplyResult reports what Apply did with a script.
type ApplyResult struct {
	Name     string
	Checksum string
	Applied  bool
}

// ApplierConfig wires an Applier.
type ApplierConfig struct {
	Database TxStarter
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Applier runs compiled scripts against Postgres.
type Applier struct {
	db     TxStarter
	logger *zap.Logger
	clock  func() time.Time
}

func NewApplier(config ApplierConfig) (*Applier, error) {
	if config.Database == nil {
		return nil, errMissingExecutor
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Applier{db: config.Database, logger: logger, clock: clock}, nil
}

// Apply executes script in one transaction and records it in the ledger. A
// script whose checksum is already recorded under the same name is skipped;
// a changed body is applied again, which the generated DDL tolerates.
func (a *Applier) Apply(ctx context.Context, script Script) (result ApplyResult, err error) {
	name := strings.TrimSpace(script.Name)
	if name == "" {
		return ApplyResult{}, fmt.Errorf("%w: name is required", ErrInvalidScript)
	}
	if strings.TrimSpace(script.SQL) == "" {
		return ApplyResult{}, fmt.Errorf("%w: %s has no statements", ErrInvalidScript, name)
	}
	result = ApplyResult{Name: name, Checksum: script.Checksum()}

	tx, err := a.db.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("database: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, createMigrationsTableSQL); err != nil {
		return result, fmt.Errorf("database: create ledger: %w", err)
	}
	if _, err = tx.Exec(ctx, lockMigrationsTableSQL); err != nil {
		return result, fmt.Errorf("database: lock ledger: %w", err)
	}

	var recorded string
	scanErr := tx.QueryRow(ctx, selectMigrationSQL, name).Scan(&recorded)
	switch {
	case scanErr == nil && recorded == result.Checksum:
		if err = tx.Commit(ctx); err != nil {
			return result, fmt.Errorf("database: commit: %w", err)
		}
		a.logger.Info("script already applied", zap.String("migration", name))
		return result, nil
	case scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows):
		err = scanErr
		return result, fmt.Errorf("database: read ledger: %w", err)
	}

	// Without arguments pgx uses the simple protocol, which accepts many statements.
	if _, err = tx.Exec(ctx, script.SQL); err != nil {
		return result, fmt.Errorf("database: apply %s: %w", name, err)
	}
	if _, err = tx.Exec(ctx, recordMigrationSQL, name, result.Checksum, a.clock().UTC().Unix()); err != nil {
		return result, fmt.Errorf("database: record %s: %w", name, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("database: commit: %w", err)
	}

	result.Applied = true
	a.logger.Info("database migration applied", zap.String("migration", name), zap.String("checksum", result.Checksum))
	return result, nil
}

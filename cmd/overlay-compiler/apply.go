package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/overlay/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultScriptName = "overlay"

func newApplyCommand() *cobra.Command {
	var scriptName string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Compile a DDL file and apply it to Postgres in one transaction",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindCommandFlags(cmd, map[string]string{"compile.input": "input"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, scriptName)
		},
	}
	cmd.Flags().StringP("input", "i", stdioPath, "DDL file to read (- for stdin)")
	cmd.Flags().StringVar(&scriptName, "name", defaultScriptName, "Ledger name of the applied script")
	return cmd
}

func runApply(cmd *cobra.Command, scriptName string) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if !appConfig.UsesPostgres() {
		return fmt.Errorf("apply requires database.url")
	}

	source, err := readInput(appConfig.CompileInput, cmd.InOrStdin())
	if err != nil {
		return err
	}
	result, err := compileSource(source, appConfig.CompilerOptions(), logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := pgxpool.New(ctx, appConfig.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	applier, err := database.NewApplier(database.ApplierConfig{Database: pool, Logger: logger})
	if err != nil {
		return err
	}
	applied, err := applier.Apply(ctx, database.Script{Name: scriptName, SQL: result.SQL})
	if err != nil {
		return err
	}

	logger.Info("apply finished",
		zap.String("migration", applied.Name),
		zap.Bool("applied", applied.Applied),
		zap.Int("tables", len(result.Tables)),
		zap.Int("warnings", len(result.Warnings)))
	return nil
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/MarcoPoloResearchLab/overlay/internal/compiler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const stdioPath = "-"

func newCompileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a DDL file and print the generated SQL",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindCommandFlags(cmd, map[string]string{"compile.input": "input", "compile.output": "output"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd)
		},
	}
	cmd.Flags().StringP("input", "i", stdioPath, "DDL file to read (- for stdin)")
	cmd.Flags().StringP("output", "o", stdioPath, "SQL file to write (- for stdout)")
	return cmd
}

func runCompile(cmd *cobra.Command) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	source, err := readInput(appConfig.CompileInput, cmd.InOrStdin())
	if err != nil {
		return err
	}
	result, err := compileSource(source, appConfig.CompilerOptions(), logger)
	if err != nil {
		return err
	}
	if err := writeOutput(appConfig.CompileOutput, cmd.OutOrStdout(), result.SQL); err != nil {
		return err
	}
	logger.Info("compilation finished",
		zap.Int("tables", len(result.Tables)),
		zap.Int("warnings", len(result.Warnings)),
		zap.String("output", appConfig.CompileOutput))
	return nil
}

func compileSource(source string, options compiler.Options, logger *zap.Logger) (compiler.Result, error) {
	options.Logger = logger
	ddlCompiler, err := compiler.New(options)
	if err != nil {
		return compiler.Result{}, err
	}
	return ddlCompiler.Compile(source), nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" || path == stdioPath {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeOutput(path string, stdout io.Writer, sql string) error {
	if path == "" || path == stdioPath {
		_, err := io.WriteString(stdout, sql)
		return err
	}
	return os.WriteFile(path, []byte(sql), 0o644)
}

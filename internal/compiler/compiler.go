package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
	"go.uber.org/zap"
)

// DefaultJoinTablePrefix marks implicit many-to-many join tables, which are
// keyed by all of their columns.
const DefaultJoinTablePrefix = "_"

var (
	// ErrUnknownOutboxVariant indicates an unsupported outbox schema variant.
	ErrUnknownOutboxVariant = errors.New("compiler: unknown outbox variant")
)

// Warning reasons reported in Result.Warnings. A table with a generated name
// equal to another one, compared as the server truncates them, is passed
// through with ReasonIdentifierCollision; one whose names are merely
// shortened is compiled and flagged with ReasonIdentifierTruncated.
const (
	ReasonParseFailed         = "parse_failed"
	ReasonReservedColumn      = "reserved_column"
	ReasonReservedTableName   = "reserved_table_name"
	ReasonNoPrimaryKey        = "no_primary_key"
	ReasonIdentifierCollision = "identifier_collision"
	ReasonIdentifierTruncated = "identifier_truncated"
)

// Options parameterize a compilation.
type Options struct {
	OutboxVariant   OutboxVariant
	JoinTablePrefix string
	Logger          *zap.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		OutboxVariant:   OutboxWithTableName,
		JoinTablePrefix: DefaultJoinTablePrefix,
	}
}

// TableReport describes what was generated for one CREATE TABLE statement.
type TableReport struct {
	Name       string
	Schema     string
	KeyPolicy  ddl.KeyPolicy
	KeyColumns []string
	Columns    []string
	// Writable reports whether write-router and reconciliation triggers were generated.
	Writable bool
}

// Warning flags a statement that was passed through or degraded.
type Warning struct {
	Table   string
	Reason  string
	Message string
}

// Result is the output of one compilation.
type Result struct {
	SQL      string
	Tables   []TableReport
	Warnings []Warning
}

// Compiler turns canonical CREATE TABLE DDL into the local-first replication layer.
type Compiler struct {
	options Options
	logger  *zap.Logger
}

// New validates options and constructs a Compiler.
func New(options Options) (*Compiler, error) {
	variant, err := ParseOutboxVariant(string(options.OutboxVariant))
	if err != nil {
		return nil, err
	}
	options.OutboxVariant = variant

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{options: options, logger: logger}, nil
}

// Compile processes a whole DDL file. Statements keep their original order;
// each CREATE TABLE block is replaced in place by its derived objects and the
// outbox schema is appended once. A table that cannot be handled is passed
// through verbatim with a warning comment, never aborting the run.
func (c *Compiler) Compile(source string) Result {
	names := newNameRegistry()
	objects := newNameRegistry()
	result := Result{}
	blocks := make([]string, 0)

	for _, statement := range ddl.Split(source) {
		if statement.Kind != ddl.StatementCreateTable {
			blocks = append(blocks, statement.Text)
			continue
		}

		table, err := ddl.ParseCreateTable(statement.Text)
		if err != nil {
			warning := Warning{Reason: ReasonParseFailed, Message: err.Error()}
			blocks = append(blocks, c.passthrough(&result, warning, statement.Text))
			continue
		}
		if reason, message := checkReserved(table); reason != "" {
			warning := Warning{Table: table.Name, Reason: reason, Message: message}
			blocks = append(blocks, c.passthrough(&result, warning, statement.Text))
			continue
		}

		plan := newTablePlan(table, ddl.ResolvePrimaryKey(table, c.options.JoinTablePrefix))
		derived := plan.derivedNames()
		if collided, ok := objects.reserve(table.Schema, derived); !ok {
			message := fmt.Sprintf("generated name %q for table %q collides with another generated name (names are compared after truncation to %d bytes)",
				collided.name, table.Name, maxIdentifierLength)
			warning := Warning{Table: table.Name, Reason: ReasonIdentifierCollision, Message: message}
			blocks = append(blocks, c.passthrough(&result, warning, statement.Text))
			continue
		}

		generated, report := c.compileTable(plan, names)
		if truncated, ok := firstOverlong(derived); ok {
			warning := Warning{
				Table:   table.Name,
				Reason:  ReasonIdentifierTruncated,
				Message: fmt.Sprintf("generated name %q exceeds %d bytes and is stored as %q", truncated, maxIdentifierLength, truncateIdentifier(truncated)),
			}
			result.Warnings = append(result.Warnings, warning)
			c.logger.Warn("generated name truncated", zap.String("table", table.Name), zap.String("name", truncated))
			generated = append([]string{warningComment(warning.Message)}, generated...)
		}
		if !report.Writable {
			warning := Warning{
				Table:   table.Name,
				Reason:  ReasonNoPrimaryKey,
				Message: fmt.Sprintf("table %q has no primary key; view %q is read-only", table.Name, table.Name),
			}
			result.Warnings = append(result.Warnings, warning)
			c.logger.Warn("table degraded to keyless view", zap.String("table", table.Name), zap.String("reason", warning.Reason))
			generated = append([]string{warningComment(warning.Message)}, generated...)
		}
		result.Tables = append(result.Tables, report)
		blocks = append(blocks, strings.Join(generated, "\n\n"))
	}

	blocks = append(blocks, outboxSchemaSQL(c.options.OutboxVariant)...)
	result.SQL = strings.Join(blocks, "\n\n") + "\n"
	return result
}

func (c *Compiler) compileTable(plan tablePlan, names *nameRegistry) ([]string, TableReport) {
	table, key := plan.table, plan.key

	generated := []string{
		syncedTableSQL(plan, names),
		localTableSQL(plan, names),
		mergeViewSQL(plan),
	}
	generated = append(generated, viewDefaultsSQL(plan)...)
	if key.Keyed() {
		generated = append(generated, writeRouterSQL(plan, c.options.OutboxVariant)...)
		generated = append(generated, reconciliationSQL(plan)...)
	}

	c.logger.Debug("table compiled",
		zap.String("table", table.Name),
		zap.String("key_policy", string(key.Policy())),
		zap.Strings("key_columns", key.Columns()))

	return generated, TableReport{
		Name:       table.Name,
		Schema:     table.Schema,
		KeyPolicy:  key.Policy(),
		KeyColumns: key.Columns(),
		Columns:    table.ColumnNames(),
		Writable:   key.Keyed(),
	}
}

func (c *Compiler) passthrough(result *Result, warning Warning, text string) string {
	result.Warnings = append(result.Warnings, warning)
	c.logger.Warn("create table passed through",
		zap.String("table", warning.Table),
		zap.String("reason", warning.Reason),
		zap.String("detail", warning.Message))
	return warningComment("statement passed through unchanged: "+warning.Message) + "\n" + text
}

func checkReserved(table ddl.TableSchema) (string, string) {
	if table.Name == OutboxTable {
		return ReasonReservedTableName, fmt.Sprintf("table name %q is reserved for the outbox", table.Name)
	}
	for _, reserved := range reservedColumns {
		if _, exists := table.Column(reserved); exists {
			return ReasonReservedColumn, fmt.Sprintf("table %q declares reserved column %q", table.Name, reserved)
		}
	}
	return "", ""
}

func firstOverlong(names []derivedName) (string, bool) {
	for _, derived := range names {
		if len(derived.name) > maxIdentifierLength {
			return derived.name, true
		}
	}
	return "", false
}

func warningComment(message string) string {
	return "-- WARNING: " + strings.ReplaceAll(message, "\n", " ")
}

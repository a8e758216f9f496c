package compiler

import (
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
)

const (
	suffixSynced = "_synced"
	suffixLocal  = "_local"

	columnWriteID        = "write_id"
	columnChangedColumns = "changed_columns"
	columnIsDeleted      = "is_deleted"

	aliasSynced = "synced_row"
	aliasLocal  = "local_row"
)

var reservedColumns = []string{columnWriteID, columnChangedColumns, columnIsDeleted}

// tablePlan is everything the generators need to know about one base table.
type tablePlan struct {
	table  ddl.TableSchema
	key    ddl.PrimaryKey
	nonKey []string
}

func newTablePlan(table ddl.TableSchema, key ddl.PrimaryKey) tablePlan {
	nonKey := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		if !key.Contains(column.Name) {
			nonKey = append(nonKey, column.Name)
		}
	}
	return tablePlan{table: table, key: key, nonKey: nonKey}
}

func (p tablePlan) view() string {
	return p.table.QualifiedName("")
}

func (p tablePlan) synced() string {
	return p.table.QualifiedName(suffixSynced)
}

func (p tablePlan) local() string {
	return p.table.QualifiedName(suffixLocal)
}

func (p tablePlan) function(suffix string) string {
	return p.table.QualifiedName(suffix)
}

// Namespaces of generated names. Relations and functions are unique per
// schema; trigger names only per table.
const (
	namespaceRelation = "relation"
	namespaceFunction = "function"
	namespaceTrigger  = "trigger"
)

// derivedName is a generated object name within its namespace.
type derivedName struct {
	namespace string
	name      string
}

// derivedNames lists every object generated for the table except
// constraints, which the name registry shortens on its own.
func (p tablePlan) derivedNames() []derivedName {
	base := p.table.Name
	names := []derivedName{
		{namespace: namespaceRelation, name: base},
		{namespace: namespaceRelation, name: base + suffixSynced},
		{namespace: namespaceRelation, name: base + suffixLocal},
	}
	if !p.key.Keyed() {
		return names
	}
	for _, suffix := range []string{
		suffixInsertFunction,
		suffixUpdateFunction,
		suffixDeleteFunction,
		suffixReconcileUpsertFunction,
		suffixReconcileDeleteFunction,
	} {
		names = append(names, derivedName{namespace: namespaceFunction, name: base + suffix})
	}
	viewTriggers := namespaceTrigger + " " + base
	for _, suffix := range []string{suffixInsertTrigger, suffixUpdateTrigger, suffixDeleteTrigger} {
		names = append(names, derivedName{namespace: viewTriggers, name: base + suffix})
	}
	return names
}

// renameConstraint maps a constraint name declared on the base table onto a
// derived table: "item_name_key" on "item" becomes "item_synced_name_key".
func renameConstraint(tableName, target, name string) string {
	if rest, ok := strings.CutPrefix(name, tableName+"_"); ok {
		return target + "_" + rest
	}
	return target + "_" + name
}

// syncedTableSQL emits T_synced: the original columns, a trailing nullable
// write_id, and every non-foreign-key constraint renamed for the new table.
func syncedTableSQL(plan tablePlan, names *nameRegistry) string {
	target := plan.table.Name + suffixSynced
	lines := make([]string, 0, len(plan.table.Columns)+len(plan.table.Constraints)+2)
	for _, column := range plan.table.Columns {
		lines = append(lines, ddl.QuoteIdent(column.Name)+" "+column.Definition)
	}
	lines = append(lines, ddl.QuoteIdent(columnWriteID)+" UUID")

	lines = append(lines, derivedConstraints(plan, target, names, true)...)
	return createTableSQL(plan.synced(), lines)
}

// localTableSQL emits T_local. Every column keeps only its storage type:
// tombstones and partial overlays leave non-key columns NULL, and values are
// always written by the routing triggers, so nothing here may generate them.
// Key columns keep NOT NULL so the view's "local row absent" test holds.
func localTableSQL(plan tablePlan, names *nameRegistry) string {
	target := plan.table.Name + suffixLocal
	lines := make([]string, 0, len(plan.table.Columns)+4)
	for _, column := range plan.table.Columns {
		definition := column.StorageType()
		if plan.key.Contains(column.Name) && column.NotNull {
			definition += " NOT NULL"
		}
		lines = append(lines, ddl.QuoteIdent(column.Name)+" "+definition)
	}
	lines = append(lines,
		ddl.QuoteIdent(columnChangedColumns)+" TEXT[] NOT NULL DEFAULT '{}'",
		ddl.QuoteIdent(columnIsDeleted)+" BOOLEAN NOT NULL DEFAULT FALSE",
		ddl.QuoteIdent(columnWriteID)+" UUID NOT NULL",
	)
	lines = append(lines, derivedConstraints(plan, target, names, false)...)
	return createTableSQL(plan.local(), lines)
}

// derivedConstraints renames table constraints for target. The synced table
// keeps every constraint except foreign keys; the local table keeps only the
// primary key. Keys declared inline on a column and join tables keyed by all
// columns get a table-level primary key named after target.
func derivedConstraints(plan tablePlan, target string, names *nameRegistry, synced bool) []string {
	lines := make([]string, 0, len(plan.table.Constraints)+1)
	for _, constraint := range plan.table.Constraints {
		switch {
		case constraint.Kind == ddl.ConstraintForeignKey:
			continue
		case constraint.Kind == ddl.ConstraintPrimaryKey:
			lines = append(lines, constraint.Render(names.claim(plan.table.Schema, target+"_pkey")))
		case !synced:
			continue
		case constraint.Name == "":
			lines = append(lines, constraint.Render(""))
		default:
			renamed := names.claim(plan.table.Schema, renameConstraint(plan.table.Name, target, constraint.Name))
			lines = append(lines, constraint.Render(renamed))
		}
	}
	if _, declared := plan.table.PrimaryKeyConstraint(); !declared && plan.key.Keyed() {
		body := "PRIMARY KEY (" + quoteList(plan.key.Columns()) + ")"
		lines = append(lines, "CONSTRAINT "+ddl.QuoteIdent(names.claim(plan.table.Schema, target+"_pkey"))+" "+body)
	}
	return lines
}

func createTableSQL(name string, lines []string) string {
	var builder strings.Builder
	builder.WriteString("CREATE TABLE IF NOT EXISTS ")
	builder.WriteString(name)
	builder.WriteString(" (\n")
	for index, line := range lines {
		builder.WriteString("    ")
		builder.WriteString(line)
		if index < len(lines)-1 {
			builder.WriteByte(',')
		}
		builder.WriteByte('\n')
	}
	builder.WriteString(");")
	return builder.String()
}

func quoteList(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, ddl.QuoteIdent(name))
	}
	return strings.Join(quoted, ", ")
}

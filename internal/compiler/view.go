package compiler

import (
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
)

// mergeViewSQL emits the application-facing view. For keyed tables a column
// reads the local value only while it is in local changed_columns; key columns
// coalesce local over synced; tombstoned keys are hidden.
func mergeViewSQL(plan tablePlan) string {
	if !plan.key.Keyed() {
		return keylessViewSQL(plan)
	}

	selects := make([]string, 0, len(plan.table.Columns))
	for _, column := range plan.table.Columns {
		name := ddl.QuoteIdent(column.Name)
		if plan.key.Contains(column.Name) {
			selects = append(selects, "COALESCE("+aliasLocal+"."+name+", "+aliasSynced+"."+name+") AS "+name)
			continue
		}
		selects = append(selects, "CASE WHEN "+ddl.QuoteLiteral(column.Name)+" = ANY("+aliasLocal+"."+ddl.QuoteIdent(columnChangedColumns)+
			") THEN "+aliasLocal+"."+name+" ELSE "+aliasSynced+"."+name+" END AS "+name)
	}

	join := make([]string, 0, len(plan.key.Columns()))
	for _, column := range plan.key.Columns() {
		name := ddl.QuoteIdent(column)
		join = append(join, aliasLocal+"."+name+" = "+aliasSynced+"."+name)
	}
	firstKey := ddl.QuoteIdent(plan.key.Columns()[0])

	var builder strings.Builder
	builder.WriteString("CREATE OR REPLACE VIEW " + plan.view() + " AS\nSELECT\n    ")
	builder.WriteString(strings.Join(selects, ",\n    "))
	builder.WriteString("\nFROM " + plan.synced() + " AS " + aliasSynced)
	builder.WriteString("\nFULL OUTER JOIN " + plan.local() + " AS " + aliasLocal)
	builder.WriteString("\n    ON " + strings.Join(join, " AND "))
	builder.WriteString("\nWHERE " + aliasLocal + "." + firstKey + " IS NULL OR " + aliasLocal + "." + ddl.QuoteIdent(columnIsDeleted) + " = FALSE;")
	return builder.String()
}

// keylessViewSQL unions synced rows with live local rows; without a stable
// identity there is nothing to merge on.
func keylessViewSQL(plan tablePlan) string {
	columns := quoteList(plan.table.ColumnNames())
	var builder strings.Builder
	builder.WriteString("CREATE OR REPLACE VIEW " + plan.view() + " AS\n")
	builder.WriteString("SELECT " + columns + " FROM " + plan.synced() + "\n")
	builder.WriteString("UNION ALL\n")
	builder.WriteString("SELECT " + columns + " FROM " + plan.local() + " WHERE " + ddl.QuoteIdent(columnIsDeleted) + " = FALSE;")
	return builder.String()
}

// viewDefaultsSQL carries column defaults over to the view so inserts routed
// through it see the same defaults as the base table. Serial and identity
// columns draw from the sequence owned by the synced table, since the local
// copy has none.
func viewDefaultsSQL(plan tablePlan) []string {
	statements := make([]string, 0)
	for _, column := range plan.table.Columns {
		expression := column.Default
		if expression == "" && column.Generated() {
			expression = "nextval(pg_get_serial_sequence(" + ddl.QuoteLiteral(plan.synced()) + ", " + ddl.QuoteLiteral(column.Name) + "))"
		}
		if expression == "" {
			continue
		}
		statements = append(statements, "ALTER VIEW "+plan.view()+" ALTER COLUMN "+ddl.QuoteIdent(column.Name)+
			" SET DEFAULT "+expression+";")
	}
	return statements
}

package compiler

import (
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
)

// Generated function and trigger names. Function names are prefixed with the
// table name; trigger names are scoped by the table they are attached to.
const (
	suffixInsertFunction           = "_insert_trigger"
	suffixUpdateFunction           = "_update_trigger"
	suffixDeleteFunction           = "_delete_trigger"
	suffixReconcileUpsertFunction  = "_delete_local_on_synced_insert_and_update_trigger"
	suffixReconcileDeleteFunction  = "_delete_local_on_synced_delete_trigger"
	suffixInsertTrigger            = "_insert"
	suffixUpdateTrigger            = "_update"
	suffixDeleteTrigger            = "_delete"
	triggerReconcileOnSyncedUpsert = "delete_local_on_synced_insert"
	triggerReconcileOnSyncedDelete = "delete_local_on_synced_delete"
)

const declareWriteID = "v_write_id UUID := gen_random_uuid();"

// writeRouterSQL emits the INSTEAD OF triggers that route writes on the view
// into the local overlay and the outbox.
func writeRouterSQL(plan tablePlan, variant OutboxVariant) []string {
	insertFunction := plan.function(suffixInsertFunction)
	updateFunction := plan.function(suffixUpdateFunction)
	deleteFunction := plan.function(suffixDeleteFunction)
	return []string{
		functionSQL(insertFunction, []string{declareWriteID}, insertRouterBody(plan, variant)),
		triggerSQL(plan.table.Name+suffixInsertTrigger, plan.view(), "INSTEAD OF INSERT", insertFunction),
		functionSQL(updateFunction, updateRouterDeclarations(plan), updateRouterBody(plan, variant)),
		triggerSQL(plan.table.Name+suffixUpdateTrigger, plan.view(), "INSTEAD OF UPDATE", updateFunction),
		functionSQL(deleteFunction, []string{declareWriteID}, deleteRouterBody(plan, variant)),
		triggerSQL(plan.table.Name+suffixDeleteTrigger, plan.view(), "INSTEAD OF DELETE", deleteFunction),
	}
}

// insertRouterBody: every non-key column is marked changed because there is
// no synced baseline to diff against yet. Inserting over a local tombstone
// revives it.
func insertRouterBody(plan tablePlan, variant OutboxVariant) []string {
	columns := plan.table.ColumnNames()
	values := make([]string, 0, len(columns))
	for _, column := range columns {
		values = append(values, "NEW."+ddl.QuoteIdent(column))
	}

	assignments := make([]string, 0, len(plan.nonKey)+3)
	for _, column := range plan.nonKey {
		name := ddl.QuoteIdent(column)
		assignments = append(assignments, name+" = EXCLUDED."+name)
	}
	assignments = append(assignments,
		ddl.QuoteIdent(columnChangedColumns)+" = EXCLUDED."+ddl.QuoteIdent(columnChangedColumns),
		ddl.QuoteIdent(columnIsDeleted)+" = FALSE",
		ddl.QuoteIdent(columnWriteID)+" = EXCLUDED."+ddl.QuoteIdent(columnWriteID),
	)

	insert := "INSERT INTO " + plan.local() + " (" + quoteList(columns) + ", " + bookkeepingColumns() + ")\n" +
		"    VALUES (" + strings.Join(values, ", ") + ", " + textArray(plan.nonKey) + ", FALSE, v_write_id)\n" +
		"    ON CONFLICT (" + quoteList(plan.key.Columns()) + ") DO UPDATE SET\n        " +
		strings.Join(assignments, ",\n        ") + ";"

	return []string{
		insert,
		outboxAppend(variant, plan.table.Name, OperationInsert, "to_jsonb(NEW)"),
		"RETURN NEW;",
	}
}

func updateRouterDeclarations(plan tablePlan) []string {
	return []string{
		declareWriteID,
		"v_synced " + plan.synced() + "%ROWTYPE;",
		"v_local " + plan.local() + "%ROWTYPE;",
		"v_has_local BOOLEAN;",
		"v_changed TEXT[] := ARRAY[]::TEXT[];",
		"v_value JSONB;",
	}
}

// updateRouterBody diffs the incoming row against the synced baseline, never
// against the previous local value. The changed set is the union of the
// previous set and the new diff, minus columns this statement explicitly
// wrote back to the synced value.
func updateRouterBody(plan tablePlan, variant OutboxVariant) []string {
	body := make([]string, 0, len(plan.key.Columns())+len(plan.nonKey)+8)
	for _, column := range plan.key.Columns() {
		name := ddl.QuoteIdent(column)
		body = append(body, "IF NEW."+name+" IS DISTINCT FROM OLD."+name+" THEN\n"+
			"    RAISE EXCEPTION "+ddl.QuoteLiteral("key column "+column+" of "+plan.table.Name+" cannot be changed through the view")+";\n"+
			"END IF;")
	}

	body = append(body,
		"SELECT * INTO v_synced FROM "+plan.synced()+" WHERE "+keyMatch(plan, "OLD")+";",
		"SELECT * INTO v_local FROM "+plan.local()+" WHERE "+keyMatch(plan, "OLD")+" FOR UPDATE;",
		"v_has_local := FOUND;",
	)

	changedColumns := ddl.QuoteIdent(columnChangedColumns)
	for _, column := range plan.nonKey {
		name := ddl.QuoteIdent(column)
		literal := ddl.QuoteLiteral(column)
		body = append(body, "IF NEW."+name+" IS DISTINCT FROM v_synced."+name+" THEN\n"+
			"    v_changed := array_append(v_changed, "+literal+");\n"+
			"ELSIF v_has_local AND "+literal+" = ANY(v_local."+changedColumns+") AND NEW."+name+" IS NOT DISTINCT FROM OLD."+name+" THEN\n"+
			"    v_changed := array_append(v_changed, "+literal+");\n"+
			"END IF;")
	}

	assignments := make([]string, 0, len(plan.nonKey)+2)
	for _, column := range plan.nonKey {
		name := ddl.QuoteIdent(column)
		assignments = append(assignments, name+" = CASE WHEN NEW."+name+" IS DISTINCT FROM v_synced."+name+
			" THEN NEW."+name+" ELSE "+plan.local()+"."+name+" END")
	}
	assignments = append(assignments,
		changedColumns+" = v_changed",
		ddl.QuoteIdent(columnWriteID)+" = v_write_id",
	)

	columns := plan.table.ColumnNames()
	values := make([]string, 0, len(columns))
	for _, column := range columns {
		if plan.key.Contains(column) {
			values = append(values, "OLD."+ddl.QuoteIdent(column))
			continue
		}
		values = append(values, "NEW."+ddl.QuoteIdent(column))
	}

	body = append(body,
		"IF v_has_local THEN\n"+
			"    UPDATE "+plan.local()+" SET\n        "+strings.Join(assignments, ",\n        ")+"\n"+
			"    WHERE "+keyMatch(plan, "OLD")+";\n"+
			"ELSE\n"+
			"    INSERT INTO "+plan.local()+" ("+quoteList(columns)+", "+bookkeepingColumns()+")\n"+
			"    VALUES ("+strings.Join(values, ", ")+", v_changed, FALSE, v_write_id);\n"+
			"END IF;",
		"SELECT COALESCE(jsonb_object_agg(entry.key, entry.value), '{}'::JSONB) INTO v_value\n"+
			"    FROM jsonb_each(to_jsonb(NEW)) AS entry\n"+
			"    WHERE (entry.key = ANY("+textArray(plan.key.Columns())+") OR entry.key = ANY(v_changed))\n"+
			"    AND entry.value <> 'null'::JSONB;",
		outboxAppend(variant, plan.table.Name, OperationUpdate, "v_value"),
		"RETURN NEW;",
	)
	return body
}

// deleteRouterBody tombstones the key, inserting a key-only local row when
// no overlay exists yet.
func deleteRouterBody(plan tablePlan, variant OutboxVariant) []string {
	keys := plan.key.Columns()
	values := make([]string, 0, len(keys))
	pairs := make([]string, 0, len(keys)*2)
	for _, column := range keys {
		values = append(values, "OLD."+ddl.QuoteIdent(column))
		pairs = append(pairs, ddl.QuoteLiteral(column), "OLD."+ddl.QuoteIdent(column))
	}
	return []string{
		"UPDATE " + plan.local() + " SET " + ddl.QuoteIdent(columnIsDeleted) + " = TRUE, " + ddl.QuoteIdent(columnWriteID) + " = v_write_id\n" +
			"    WHERE " + keyMatch(plan, "OLD") + ";",
		"IF NOT FOUND THEN\n" +
			"    INSERT INTO " + plan.local() + " (" + quoteList(keys) + ", " + ddl.QuoteIdent(columnIsDeleted) + ", " + ddl.QuoteIdent(columnWriteID) + ")\n" +
			"    VALUES (" + strings.Join(values, ", ") + ", TRUE, v_write_id);\n" +
			"END IF;",
		outboxAppend(variant, plan.table.Name, OperationDelete, "jsonb_build_object("+strings.Join(pairs, ", ")+")"),
		"RETURN OLD;",
	}
}

// reconciliationSQL emits the triggers on T_synced that retire local
// overrides. An arriving row only retires the overlay stamped with the same
// write id, so a stale echo cannot clobber a newer pending edit; a synced
// delete always wins.
func reconciliationSQL(plan tablePlan) []string {
	upsertFunction := plan.function(suffixReconcileUpsertFunction)
	deleteFunction := plan.function(suffixReconcileDeleteFunction)
	writeID := ddl.QuoteIdent(columnWriteID)
	return []string{
		functionSQL(upsertFunction, nil, []string{
			"DELETE FROM " + plan.local() + "\n" +
				"    WHERE " + keyMatch(plan, "NEW") + " AND " + writeID + " = NEW." + writeID + ";",
			"RETURN NEW;",
		}),
		triggerSQL(triggerReconcileOnSyncedUpsert, plan.synced(), "AFTER INSERT OR UPDATE", upsertFunction),
		functionSQL(deleteFunction, nil, []string{
			"DELETE FROM " + plan.local() + " WHERE " + keyMatch(plan, "OLD") + ";",
			"RETURN OLD;",
		}),
		triggerSQL(triggerReconcileOnSyncedDelete, plan.synced(), "AFTER DELETE", deleteFunction),
	}
}

func bookkeepingColumns() string {
	return quoteList([]string{columnChangedColumns, columnIsDeleted, columnWriteID})
}

// textArray renders names as a TEXT[] literal expression.
func textArray(names []string) string {
	literals := make([]string, 0, len(names))
	for _, name := range names {
		literals = append(literals, ddl.QuoteLiteral(name))
	}
	return "ARRAY[" + strings.Join(literals, ", ") + "]::TEXT[]"
}

// functionSQL emits an idempotent PL/pgSQL trigger function.
func functionSQL(name string, declarations, body []string) string {
	var builder strings.Builder
	builder.WriteString("CREATE OR REPLACE FUNCTION " + name + "() RETURNS TRIGGER AS $$\n")
	if len(declarations) > 0 {
		builder.WriteString("DECLARE\n")
		for _, declaration := range declarations {
			builder.WriteString(indent(declaration))
		}
	}
	builder.WriteString("BEGIN\n")
	for _, statement := range body {
		builder.WriteString(indent(statement))
	}
	builder.WriteString("END;\n$$ LANGUAGE plpgsql;")
	return builder.String()
}

// triggerSQL drops and recreates a row-level trigger so re-applying the
// output never fails on an existing trigger.
func triggerSQL(name, table, timing, function string) string {
	quoted := ddl.QuoteIdent(name)
	return "DROP TRIGGER IF EXISTS " + quoted + " ON " + table + ";\n" +
		"CREATE TRIGGER " + quoted + "\n" +
		timing + " ON " + table + "\n" +
		"FOR EACH ROW EXECUTE FUNCTION " + function + "();"
}

func indent(block string) string {
	lines := strings.Split(block, "\n")
	for index, line := range lines {
		lines[index] = "    " + line
	}
	return strings.Join(lines, "\n") + "\n"
}

// keyMatch renders the predicate selecting the overlay row for row's key.
func keyMatch(plan tablePlan, row string) string {
	predicates := make([]string, 0, len(plan.key.Columns()))
	for _, column := range plan.key.Columns() {
		name := ddl.QuoteIdent(column)
		predicates = append(predicates, name+" = "+row+"."+name)
	}
	return strings.Join(predicates, " AND ")
}

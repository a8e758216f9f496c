package compiler

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
)

// OutboxVariant selects the shape of the shared changes table.
type OutboxVariant string

const (
	// OutboxWithTableName records the originating table on every change row.
	OutboxWithTableName OutboxVariant = "with_table_name"
	// OutboxWithoutTableName omits table_name, for consumers built against
	// single-table deployments.
	OutboxWithoutTableName OutboxVariant = "without_table_name"
)

const (
	// OutboxTable is the name of the shared append-only outbox table.
	OutboxTable = "changes"
	// NotifyChannel is the LISTEN/NOTIFY channel signalled on every append.
	NotifyChannel = "changes"

	outboxNotifyFunction = "changes_notify_trigger"
	outboxNotifyTrigger  = "changes_notify"
)

// Outbox operations recorded in changes.operation.
const (
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// ParseOutboxVariant validates a configured variant name; empty selects the default.
func ParseOutboxVariant(value string) (OutboxVariant, error) {
	switch OutboxVariant(strings.ToLower(strings.TrimSpace(value))) {
	case "", OutboxWithTableName:
		return OutboxWithTableName, nil
	case OutboxWithoutTableName:
		return OutboxWithoutTableName, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOutboxVariant, value)
	}
}

// outboxSchemaSQL emits the changes table and its notify trigger. The
// notification is a wake-up signal only; consumers tail by id.
func outboxSchemaSQL(variant OutboxVariant) []string {
	lines := []string{`"id" BIGSERIAL PRIMARY KEY`}
	if variant == OutboxWithTableName {
		lines = append(lines, `"table_name" TEXT NOT NULL`)
	}
	lines = append(lines,
		`"operation" TEXT NOT NULL CHECK ("operation" IN ('insert', 'update', 'delete'))`,
		`"value" JSONB NOT NULL`,
		`"write_id" UUID NOT NULL`,
		`"transaction_id" BIGINT NOT NULL`,
	)

	function := ddl.QuoteIdent(outboxNotifyFunction)
	notify := functionSQL(function, nil, []string{
		"PERFORM pg_notify(" + ddl.QuoteLiteral(NotifyChannel) + `, NEW."id"::TEXT);`,
		"RETURN NEW;",
	})
	return []string{
		createTableSQL(ddl.QuoteIdent(OutboxTable), lines),
		notify,
		triggerSQL(outboxNotifyTrigger, ddl.QuoteIdent(OutboxTable), "AFTER INSERT", function),
	}
}

// outboxAppend is the PL/pgSQL statement appending one change row.
func outboxAppend(variant OutboxVariant, tableName, operation, value string) string {
	columns := []string{}
	values := []string{}
	if variant == OutboxWithTableName {
		columns = append(columns, `"table_name"`)
		values = append(values, ddl.QuoteLiteral(tableName))
	}
	columns = append(columns, `"operation"`, `"value"`, `"write_id"`, `"transaction_id"`)
	values = append(values, ddl.QuoteLiteral(operation), value, "v_write_id", "txid_current()")
	return "INSERT INTO " + ddl.QuoteIdent(OutboxTable) + " (" + strings.Join(columns, ", ") + ")\n" +
		"    VALUES (" + strings.Join(values, ", ") + ");"
}

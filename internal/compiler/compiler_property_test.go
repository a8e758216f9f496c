package compiler

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
	"pgregory.net/rapid"
)

func TestCompileColumnFidelityRapid(t *testing.T) {
	compiler, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rapid.Check(t, func(t *rapid.T) {
		tableName := rapid.StringMatching(`t[a-z0-9]{0,8}`).Draw(t, "table")
		count := rapid.IntRange(1, 6).Draw(t, "columns")
		columns := make([]string, 0, count)
		seen := make(map[string]bool)
		for index := 0; index < count; index++ {
			column := rapid.StringMatching(`c[a-z0-9_]{0,8}`).Draw(t, fmt.Sprintf("column_%d", index))
			if seen[column] {
				continue
			}
			seen[column] = true
			columns = append(columns, column)
		}
		keyCount := rapid.IntRange(0, len(columns)).Draw(t, "key_columns")

		lines := make([]string, 0, len(columns)+1)
		for _, column := range columns {
			lines = append(lines, ddl.QuoteIdent(column)+" TEXT NOT NULL")
		}
		if keyCount > 0 {
			lines = append(lines, "PRIMARY KEY ("+quoteList(columns[:keyCount])+")")
		}
		source := "CREATE TABLE " + ddl.QuoteIdent(tableName) + " (" + strings.Join(lines, ", ") + ");"

		result := compiler.Compile(source)
		if len(result.Tables) != 1 {
			t.Fatalf("expected one table report, got %#v", result.Tables)
		}
		if result.Tables[0].Writable != (keyCount > 0) {
			t.Fatalf("unexpected writability for key size %d", keyCount)
		}

		parsed := make(map[string]ddl.TableSchema)
		for _, statement := range ddl.Split(result.SQL) {
			if statement.Kind != ddl.StatementCreateTable {
				continue
			}
			table, err := ddl.ParseCreateTable(statement.Text)
			if err != nil {
				t.Fatalf("generated table does not parse: %v\n%s", err, statement.Text)
			}
			parsed[table.Name] = table
		}

		synced, ok := parsed[tableName+suffixSynced]
		if !ok {
			t.Fatalf("missing synced table")
		}
		if !reflect.DeepEqual(synced.ColumnNames(), append(append([]string{}, columns...), columnWriteID)) {
			t.Fatalf("unexpected synced columns %v", synced.ColumnNames())
		}
		local, ok := parsed[tableName+suffixLocal]
		if !ok {
			t.Fatalf("missing local table")
		}
		expectedLocal := append(append([]string{}, columns...), columnChangedColumns, columnIsDeleted, columnWriteID)
		if !reflect.DeepEqual(local.ColumnNames(), expectedLocal) {
			t.Fatalf("unexpected local columns %v", local.ColumnNames())
		}
		for _, column := range columns[:keyCount] {
			definition, _ := local.Column(column)
			if !definition.NotNull {
				t.Fatalf("key column %q lost NOT NULL in the local table", column)
			}
		}
		if _, ok := parsed[OutboxTable]; !ok {
			t.Fatalf("missing outbox table")
		}
	})
}

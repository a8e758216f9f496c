package ddl

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCreateTableItem(t *testing.T) {
	table, err := ParseCreateTable(`CREATE TABLE "item" (id TEXT, name TEXT, CONSTRAINT item_pkey PRIMARY KEY (id));`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Name != "item" || table.Schema != "" {
		t.Fatalf("unexpected table name %q.%q", table.Schema, table.Name)
	}
	if !reflect.DeepEqual(table.ColumnNames(), []string{"id", "name"}) {
		t.Fatalf("unexpected columns %v", table.ColumnNames())
	}
	if len(table.Constraints) != 1 {
		t.Fatalf("expected one constraint, got %d", len(table.Constraints))
	}
	constraint := table.Constraints[0]
	if constraint.Name != "item_pkey" || constraint.Kind != ConstraintPrimaryKey {
		t.Fatalf("unexpected constraint %#v", constraint)
	}
	if constraint.Body != "PRIMARY KEY (id)" {
		t.Fatalf("unexpected constraint body %q", constraint.Body)
	}
	if !reflect.DeepEqual(constraint.Columns, []string{"id"}) {
		t.Fatalf("unexpected key columns %v", constraint.Columns)
	}
}

func TestParseCreateTableColumnClauses(t *testing.T) {
	source := `CREATE TABLE "order" (
    "id" UUID DEFAULT gen_random_uuid() PRIMARY KEY,
    "price" DECIMAL(10, 2) NOT NULL DEFAULT 0.00,
    "tags" TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[],
    "owner_id" TEXT NOT NULL REFERENCES "user"("id") ON DELETE CASCADE,
    "parent_id" TEXT CONSTRAINT order_parent_fk REFERENCES "order"("id") ON DELETE SET NULL UNIQUE,
    "ratio" DOUBLE PRECISION CHECK (ratio >= 0)
);`
	table, err := ParseCreateTable(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []ColumnDef{
		{
			Name:       "id",
			TypeClause: "UUID DEFAULT gen_random_uuid() PRIMARY KEY",
			Definition: "UUID DEFAULT gen_random_uuid()",
			Type:       "UUID",
			Default:    "gen_random_uuid()",
			PrimaryKey: true,
		},
		{
			Name:       "price",
			TypeClause: "DECIMAL(10, 2) NOT NULL DEFAULT 0.00",
			Definition: "DECIMAL(10, 2) NOT NULL DEFAULT 0.00",
			Type:       "DECIMAL(10, 2)",
			Default:    "0.00",
			NotNull:    true,
		},
		{
			Name:       "tags",
			TypeClause: "TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[]",
			Definition: "TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[]",
			Type:       "TEXT[]",
			Default:    "ARRAY[]::TEXT[]",
			NotNull:    true,
		},
		{
			Name:       "owner_id",
			TypeClause: `TEXT NOT NULL REFERENCES "user"("id") ON DELETE CASCADE`,
			Definition: "TEXT NOT NULL",
			Type:       "TEXT",
			NotNull:    true,
		},
		{
			Name:       "parent_id",
			TypeClause: `TEXT CONSTRAINT order_parent_fk REFERENCES "order"("id") ON DELETE SET NULL UNIQUE`,
			Definition: "TEXT UNIQUE",
			Type:       "TEXT",
		},
		{
			Name:       "ratio",
			TypeClause: "DOUBLE PRECISION CHECK (ratio >= 0)",
			Definition: "DOUBLE PRECISION CHECK (ratio >= 0)",
			Type:       "DOUBLE PRECISION",
		},
	}
	if len(table.Columns) != len(expected) {
		t.Fatalf("expected %d columns, got %d", len(expected), len(table.Columns))
	}
	for index, want := range expected {
		if table.Columns[index] != want {
			t.Fatalf("column %d: expected %#v, got %#v", index, want, table.Columns[index])
		}
	}
}

func TestParseCreateTableInlineKeysAndGeneratedColumns(t *testing.T) {
	source := `CREATE TABLE "item" (
    "id" TEXT CONSTRAINT "item_pk" PRIMARY KEY,
    "seq" BIGSERIAL,
    "rev" INTEGER GENERATED BY DEFAULT AS IDENTITY NOT NULL,
    "total" INTEGER GENERATED ALWAYS AS (rev * 2) STORED
);`
	table, err := ParseCreateTable(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, _ := table.Column("id")
	if !id.PrimaryKey || id.PrimaryKeyName != "item_pk" {
		t.Fatalf("expected named inline key, got %#v", id)
	}
	if id.Definition != "TEXT" {
		t.Fatalf("expected inline key stripped from definition, got %q", id.Definition)
	}

	seq, _ := table.Column("seq")
	if !seq.Serial() || !seq.Generated() || seq.StorageType() != "BIGINT" {
		t.Fatalf("expected serial column stored as BIGINT, got %#v", seq)
	}

	rev, _ := table.Column("rev")
	if !rev.Identity || rev.Default != "" || !rev.NotNull {
		t.Fatalf("expected identity column without a default, got %#v", rev)
	}
	if rev.Type != "INTEGER" || rev.StorageType() != "INTEGER" {
		t.Fatalf("unexpected identity type %q", rev.Type)
	}

	total, _ := table.Column("total")
	if total.Identity || total.Generated() {
		t.Fatalf("stored generated column is not an identity: %#v", total)
	}
}

func TestParseCreateTableConstraints(t *testing.T) {
	source := `CREATE TABLE memberships (
    team_id INT,
    user_id INT,
    role TEXT,
    UNIQUE (team_id, role),
    CONSTRAINT "memberships_role_check" CHECK (role <> ''),
    FOREIGN KEY (team_id) REFERENCES teams (id),
    UNIQUE NULLS NOT DISTINCT (user_id),
    PRIMARY KEY (team_id, user_id)
)`
	table, err := ParseCreateTable(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kinds := make([]ConstraintKind, 0, len(table.Constraints))
	for _, constraint := range table.Constraints {
		kinds = append(kinds, constraint.Kind)
	}
	expectedKinds := []ConstraintKind{ConstraintUnique, ConstraintCheck, ConstraintForeignKey, ConstraintUnique, ConstraintPrimaryKey}
	if !reflect.DeepEqual(kinds, expectedKinds) {
		t.Fatalf("unexpected constraint kinds %v", kinds)
	}
	if !reflect.DeepEqual(table.Constraints[0].Columns, []string{"team_id", "role"}) {
		t.Fatalf("unexpected unique columns %v", table.Constraints[0].Columns)
	}
	if table.Constraints[1].Name != "memberships_role_check" {
		t.Fatalf("unexpected check name %q", table.Constraints[1].Name)
	}
	if !reflect.DeepEqual(table.Constraints[3].Columns, []string{"user_id"}) {
		t.Fatalf("unexpected nulls-not-distinct columns %v", table.Constraints[3].Columns)
	}
	if !reflect.DeepEqual(table.Constraints[4].Columns, []string{"team_id", "user_id"}) {
		t.Fatalf("unexpected key columns %v", table.Constraints[4].Columns)
	}
}

func TestParseCreateTableIdentifiers(t *testing.T) {
	table, err := ParseCreateTable(`create table if not exists Shop."Order" (ID int primary key, "Quoted""Name" text);`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Schema != "shop" || table.Name != "Order" {
		t.Fatalf("unexpected qualified name %q.%q", table.Schema, table.Name)
	}
	if !reflect.DeepEqual(table.ColumnNames(), []string{"id", `Quoted"Name`}) {
		t.Fatalf("unexpected columns %v", table.ColumnNames())
	}
	if !table.Columns[0].PrimaryKey {
		t.Fatalf("expected inline primary key")
	}
	if table.QualifiedName("_synced") != `"shop"."Order_synced"` {
		t.Fatalf("unexpected qualified name %s", table.QualifiedName("_synced"))
	}
}

func TestParseCreateTableIgnoresComments(t *testing.T) {
	source := "CREATE TABLE t ( -- body\n  a INT, /* second */ b INT\n);"
	table, err := ParseCreateTable(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(table.ColumnNames(), []string{"a", "b"}) {
		t.Fatalf("unexpected columns %v", table.ColumnNames())
	}
}

func TestParseCreateTableRejectsUnsupportedInput(t *testing.T) {
	testCases := []struct {
		name   string
		source string
	}{
		{name: "view", source: "CREATE VIEW v AS SELECT 1;"},
		{name: "empty body", source: "CREATE TABLE t ();"},
		{name: "duplicate column", source: "CREATE TABLE t (a INT, a TEXT);"},
		{name: "trailing clause", source: "CREATE TABLE t (a INT) INHERITS (p);"},
		{name: "like clause", source: "CREATE TABLE t (LIKE other);"},
		{name: "constraints only", source: "CREATE TABLE t (CHECK (1 > 0));"},
		{name: "unterminated string", source: "CREATE TABLE t (a TEXT DEFAULT 'x);"},
		{name: "unterminated body", source: "CREATE TABLE t (a INT,"},
		{name: "missing type", source: "CREATE TABLE t (a);"},
		{name: "empty default", source: "CREATE TABLE t (a INT DEFAULT);"},
		{name: "two statements", source: "CREATE TABLE t (a INT); CREATE TABLE u (b INT);"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ParseCreateTable(testCase.source)
			if err == nil {
				t.Fatalf("expected parse error")
			}
			if !errors.Is(err, ErrSyntax) {
				t.Fatalf("expected ErrSyntax, got %v", err)
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %T", err)
			}
			if parseErr.Offset < 0 || parseErr.Offset > len(testCase.source) {
				t.Fatalf("offset %d out of range", parseErr.Offset)
			}
		})
	}
}

package ddl

import (
	"strings"
)

// Identifier is a SQL identifier as written in the source.
type Identifier struct {
	Raw    string
	Quoted bool
}

// Name returns the identifier the database resolves: quoted identifiers keep
// their case, bare identifiers fold to lower case.
func (id Identifier) Name() string {
	if id.Quoted {
		return id.Raw
	}
	return strings.ToLower(id.Raw)
}

// QuoteIdent renders name as a double-quoted identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral renders value as a single-quoted string literal.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ColumnDef is one column of a CREATE TABLE body. TypeClause is the verbatim
// text after the column name; the remaining fields are derived from it.
type ColumnDef struct {
	Name       string
	TypeClause string
	// Definition is TypeClause without column-level REFERENCES and PRIMARY KEY
	// constraints. An inline primary key is reported through PrimaryKey and
	// PrimaryKeyName so derived tables can declare it under their own name.
	Definition string
	// Type is the leading part of TypeClause up to the first column constraint.
	Type string
	// Default holds the DEFAULT expression, if any.
	Default        string
	NotNull        bool
	PrimaryKey     bool
	PrimaryKeyName string
	// Identity is set for GENERATED ... AS IDENTITY columns.
	Identity bool
}

var serialStorageTypes = map[string]string{
	"SMALLSERIAL": "SMALLINT",
	"SERIAL2":     "SMALLINT",
	"SERIAL":      "INTEGER",
	"SERIAL4":     "INTEGER",
	"BIGSERIAL":   "BIGINT",
	"SERIAL8":     "BIGINT",
}

// Serial reports whether the column uses one of the serial pseudo-types.
func (c ColumnDef) Serial() bool {
	_, ok := serialStorageTypes[strings.ToUpper(strings.TrimSpace(c.Type))]
	return ok
}

// Generated reports whether the database fills the column from a sequence.
func (c ColumnDef) Generated() bool {
	return c.Identity || c.Serial()
}

// StorageType is Type with serial pseudo-types replaced by the integer type
// they expand to, so a copy of the column does not own a sequence.
func (c ColumnDef) StorageType() string {
	if storage, ok := serialStorageTypes[strings.ToUpper(strings.TrimSpace(c.Type))]; ok {
		return storage
	}
	return c.Type
}

// ConstraintKind classifies a table-level constraint.
type ConstraintKind string

const (
	ConstraintPrimaryKey ConstraintKind = "PRIMARY KEY"
	ConstraintUnique     ConstraintKind = "UNIQUE"
	ConstraintCheck      ConstraintKind = "CHECK"
	ConstraintForeignKey ConstraintKind = "FOREIGN KEY"
	ConstraintExclude    ConstraintKind = "EXCLUDE"
)

// ConstraintDef is a table-level constraint. Body is the raw clause without
// the optional "CONSTRAINT name" prefix so it can be re-emitted under a new name.
type ConstraintDef struct {
	Name    string
	Kind    ConstraintKind
	Columns []string
	Body    string
}

// Render emits the constraint under the provided name.
func (c ConstraintDef) Render(name string) string {
	if name == "" {
		return c.Body
	}
	return "CONSTRAINT " + QuoteIdent(name) + " " + c.Body
}

// TableSchema is the parsed form of one CREATE TABLE statement.
type TableSchema struct {
	Schema      string
	Name        string
	Columns     []ColumnDef
	Constraints []ConstraintDef
}

// ColumnNames returns column names in declaration order.
func (t TableSchema) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Column looks up a column by name.
func (t TableSchema) Column(name string) (ColumnDef, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return ColumnDef{}, false
}

// QualifiedName renders schema-qualified, quoted name for the table with an
// optional suffix appended to the table part.
func (t TableSchema) QualifiedName(suffix string) string {
	name := QuoteIdent(t.Name + suffix)
	if t.Schema == "" {
		return name
	}
	return QuoteIdent(t.Schema) + "." + name
}

// PrimaryKeyConstraint returns the PRIMARY KEY table constraint, if declared.
func (t TableSchema) PrimaryKeyConstraint() (ConstraintDef, bool) {
	for _, constraint := range t.Constraints {
		if constraint.Kind == ConstraintPrimaryKey {
			return constraint, true
		}
	}
	return ConstraintDef{}, false
}

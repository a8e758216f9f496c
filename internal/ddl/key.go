package ddl

import "strings"

// KeyPolicy names how the row identity of a table was determined.
type KeyPolicy string

const (
	// KeyNone means no stable identity: the table gets the keyless union view.
	KeyNone KeyPolicy = "none"
	// KeyExplicit means the key comes from a declared PRIMARY KEY.
	KeyExplicit KeyPolicy = "explicit"
	// KeyAllColumns means every column forms the key (many-to-many join tables).
	KeyAllColumns KeyPolicy = "all_columns"
)

// PrimaryKey is the resolved row identity of a table.
type PrimaryKey struct {
	policy  KeyPolicy
	columns []string
}

// ExplicitKey builds a key from a declared primary key column list.
func ExplicitKey(columns []string) PrimaryKey {
	return PrimaryKey{policy: KeyExplicit, columns: append([]string(nil), columns...)}
}

// AllColumnsKey builds a key spanning every column of a join table.
func AllColumnsKey(columns []string) PrimaryKey {
	return PrimaryKey{policy: KeyAllColumns, columns: append([]string(nil), columns...)}
}

// NoKey is the key of a table without a determinable identity.
func NoKey() PrimaryKey {
	return PrimaryKey{policy: KeyNone}
}

// Policy reports how the key was determined.
func (k PrimaryKey) Policy() KeyPolicy {
	if k.policy == "" {
		return KeyNone
	}
	return k.policy
}

// Columns returns the key columns in key order.
func (k PrimaryKey) Columns() []string {
	return append([]string(nil), k.columns...)
}

// Keyed reports whether rows can be addressed by key.
func (k PrimaryKey) Keyed() bool {
	return k.Policy() != KeyNone && len(k.columns) > 0
}

// Contains reports whether column is part of the key.
func (k PrimaryKey) Contains(column string) bool {
	for _, name := range k.columns {
		if name == column {
			return true
		}
	}
	return false
}

// ResolvePrimaryKey determines the row identity of table. A declared PRIMARY
// KEY wins; otherwise a table whose name starts with joinTablePrefix is
// treated as a join table keyed by all of its columns. An empty prefix
// disables the join-table rule.
func ResolvePrimaryKey(table TableSchema, joinTablePrefix string) PrimaryKey {
	if constraint, ok := table.PrimaryKeyConstraint(); ok && len(constraint.Columns) > 0 {
		return ExplicitKey(constraint.Columns)
	}
	inline := make([]string, 0, 1)
	for _, column := range table.Columns {
		if column.PrimaryKey {
			inline = append(inline, column.Name)
		}
	}
	if len(inline) > 0 {
		return ExplicitKey(inline)
	}
	if joinTablePrefix != "" && strings.HasPrefix(table.Name, joinTablePrefix) && len(table.Columns) > 0 {
		return AllColumnsKey(table.ColumnNames())
	}
	return NoKey()
}

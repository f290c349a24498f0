package storage

import (
	"fmt"
	"strings"
)

// Dialect carries the SQL differences between relational backends.
type Dialect struct {
	// Seq names the column that orders physical inserts.
	Seq string
	// SeqDDL is the column definition for Seq, empty when it is implicit.
	SeqDDL      string
	Placeholder func(n int) string
	Types       map[ColumnType]string
}

// SQLite uses the implicit rowid as the insertion order.
var SQLite = Dialect{
	Seq:         "rowid",
	Placeholder: func(int) string { return "?" },
	Types:       map[ColumnType]string{Text: "TEXT", Integer: "INTEGER", Real: "REAL"},
}

// Postgres adds an explicit BIGSERIAL column as the insertion order.
var Postgres = Dialect{
	Seq:         "seq",
	SeqDDL:      "seq BIGSERIAL PRIMARY KEY",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Types:       map[ColumnType]string{Text: "TEXT", Integer: "BIGINT", Real: "DOUBLE PRECISION"},
}

// CreateTable returns the DDL statements for spec: the table and an index over
// its natural key.
func (d Dialect) CreateTable(spec TableSpec) []string {
	cols := make([]string, 0, len(spec.Columns)+1)
	if d.SeqDDL != "" {
		cols = append(cols, d.SeqDDL)
	}
	for _, c := range spec.Columns {
		cols = append(cols, c.Name+" "+d.Types[c.Type])
	}
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", spec.Table, strings.Join(cols, ", ")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_natural_key ON %s (%s)",
			spec.Table, spec.Table, strings.Join(spec.NaturalKey, ", ")),
	}
}

// Insert returns the single-row insert statement for spec.
func (d Dialect) Insert(spec TableSpec) string {
	marks := make([]string, len(spec.Columns))
	for i := range marks {
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Table, strings.Join(spec.ColumnNames(), ", "), strings.Join(marks, ", "))
}

// Select returns a statement reading every row of spec in insertion order.
func (d Dialect) Select(spec TableSpec) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(spec.ColumnNames(), ", "), spec.Table, d.Seq)
}

// Dedup keeps the most recently inserted row per natural key. Running it on a
// deduplicated table deletes nothing.
func (d Dialect) Dedup(spec TableSpec) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s NOT IN (SELECT MAX(%s) FROM %s GROUP BY %s)",
		spec.Table, d.Seq, d.Seq, spec.Table, strings.Join(spec.NaturalKey, ", "))
}

// Prune returns one statement per parent reference of spec that deletes rows
// pointing at a missing parent.
func (d Dialect) Prune(spec TableSpec) []string {
	cols := make([]string, 0, len(spec.ParentKeys))
	for _, c := range spec.ColumnNames() {
		if _, ok := spec.ParentKeys[c]; ok {
			cols = append(cols, c)
		}
	}
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		out = append(out, fmt.Sprintf("DELETE FROM %s WHERE %s NOT IN (SELECT id FROM %s)",
			spec.Table, col, spec.ParentKeys[col]))
	}
	return out
}

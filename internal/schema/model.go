// Package schema models an introspected relational schema and extracts it
// from the database catalog.
//
// All model types are immutable snapshots: extraction produces a wholly
// new *Schema, and nothing mutates one in place afterwards.
package schema

import (
	"sort"
	"strings"
)

// Column describes one column of a table.
type Column struct {
	Name      string  `json:"name"`
	DataType  string  `json:"data_type"`
	Length    *int    `json:"length,omitempty"`    // nil when the type carries no length
	Precision *int    `json:"precision,omitempty"` // nil for non-numeric types
	Scale     *int    `json:"scale,omitempty"`     // nil for non-numeric types
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"` // raw catalog literal, untyped; nil if no default
	Comment   string  `json:"comment,omitempty"`
}

// PrimaryKey is one column's membership in a table's primary key.
// Position is 1-based; a table's primary key positions form a contiguous
// sequence starting at 1.
type PrimaryKey struct {
	Column     string `json:"column"`
	Position   int    `json:"position"`
	Constraint string `json:"constraint"`
}

// ForeignKey is one column-to-column reference. A multi-column constraint
// appears as several ForeignKey records sharing a Constraint name, ordered
// by position within the constraint.
type ForeignKey struct {
	Column     string `json:"column"`
	RefOwner   string `json:"ref_owner"`
	RefTable   string `json:"ref_table"`
	RefColumn  string `json:"ref_column"`
	Constraint string `json:"constraint"`
}

// Table is an introspected table: columns in catalog-native ordinal order,
// plus its key constraints.
type Table struct {
	Name        string       `json:"name"`
	Comment     string       `json:"comment,omitempty"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []PrimaryKey `json:"primary_keys,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Column returns the column with the given name, if present.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// IsPrimaryColumn reports whether name participates in the primary key.
func (t *Table) IsPrimaryColumn(name string) bool {
	for _, pk := range t.PrimaryKeys {
		if pk.Column == name {
			return true
		}
	}
	return false
}

// IsForeignColumn reports whether name participates in any foreign key.
func (t *Table) IsForeignColumn(name string) bool {
	for _, fk := range t.ForeignKeys {
		if fk.Column == name {
			return true
		}
	}
	return false
}

// Schema is a full introspected schema: the owner plus its tables keyed
// by uppercased table name (catalogs disagree on identifier case; the
// uppercase key makes lookups case-stable).
type Schema struct {
	Owner  string           `json:"owner"`
	Tables map[string]Table `json:"tables"`
}

// TableKey normalizes a table name into the form used as a Schema map key.
func TableKey(name string) string {
	return strings.ToUpper(name)
}

// TableNames returns the schema's table keys in sorted order. Iterating
// in this order keeps everything derived from a Schema deterministic.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package docs converts an introspected schema into the flat list of
// retrieval units fed to the vector index.
package docs

import (
	"fmt"
	"strings"

	"github.com/dbwhisper/dbwhisper/internal/schema"
)

// UnitKind distinguishes table-level from column-level units.
type UnitKind string

const (
	UnitTable  UnitKind = "table"
	UnitColumn UnitKind = "column"
)

// noDescription is the placeholder body text for missing comments.
const noDescription = "No description available"

// Tags is the structured metadata attached to a retrieval unit. It rides
// along with the unit into the index and comes back on every search hit.
type Tags struct {
	Kind       UnitKind `json:"type"`
	TableName  string   `json:"table_name"`
	ColumnName string   `json:"column_name,omitempty"`
	DataType   string   `json:"data_type,omitempty"`
	IsPrimary  bool     `json:"is_primary,omitempty"`
	IsForeign  bool     `json:"is_foreign,omitempty"`
}

// RetrievalUnit is one synthesized text document plus its tags.
type RetrievalUnit struct {
	Kind UnitKind
	Body string
	Tags Tags
}

// Synthesize renders one TABLE unit and one COLUMN unit per column for
// every table in s. Output is deterministic for a given Schema value:
// tables are visited in sorted key order, a table's units are contiguous,
// the TABLE unit precedes its COLUMN units, and COLUMN units follow the
// table's column order.
func Synthesize(s *schema.Schema) []RetrievalUnit {
	var units []RetrievalUnit

	for _, key := range s.TableNames() {
		table := s.Tables[key]
		units = append(units, tableUnit(key, table))

		for _, col := range table.Columns {
			units = append(units, columnUnit(key, table, col))
		}
	}
	return units
}

func tableUnit(key string, t schema.Table) RetrievalUnit {
	pks := make([]string, len(t.PrimaryKeys))
	for i, pk := range t.PrimaryKeys {
		pks[i] = pk.Column
	}

	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = c.Name
	}

	body := fmt.Sprintf(
		"Table: %s\nDescription: %s\nPrimary Keys: %s\nColumns: %s",
		key,
		orPlaceholder(t.Comment),
		strings.Join(pks, ", "),
		strings.Join(cols, ", "),
	)

	return RetrievalUnit{
		Kind: UnitTable,
		Body: body,
		Tags: Tags{Kind: UnitTable, TableName: key},
	}
}

func columnUnit(key string, t schema.Table, col schema.Column) RetrievalUnit {
	body := fmt.Sprintf(
		"Column: %s.%s\nType: %s\nNullable: %t\nDescription: %s",
		key,
		col.Name,
		col.DataType,
		col.Nullable,
		orPlaceholder(col.Comment),
	)

	return RetrievalUnit{
		Kind: UnitColumn,
		Body: body,
		Tags: Tags{
			Kind:       UnitColumn,
			TableName:  key,
			ColumnName: col.Name,
			DataType:   col.DataType,
			// Membership is computed here, never stored on the column.
			IsPrimary: t.IsPrimaryColumn(col.Name),
			IsForeign: t.IsForeignColumn(col.Name),
		},
	}
}

func orPlaceholder(comment string) string {
	if comment == "" {
		return noDescription
	}
	return comment
}

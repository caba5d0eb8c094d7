package schema

import (
	"context"

	"github.com/dbwhisper/dbwhisper/internal/database"
)

// MyIntrospector implements Introspector for MySQL / MariaDB. The mysql
// wire protocol has no named-parameter support, so these queries use ?
// placeholders; each query binds at most two values, keeping the ordinal
// risk contained.
type MyIntrospector struct{}

// NewMyIntrospector creates a MySQL catalog introspector.
func NewMyIntrospector() *MyIntrospector {
	return &MyIntrospector{}
}

// ListTables returns all base tables in the given database (MySQL equates
// schema and database).
func (m *MyIntrospector) ListTables(ctx context.Context, s database.Session, owner string) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := s.Query(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableComment reads the table comment from information_schema.tables.
func (m *MyIntrospector) TableComment(ctx context.Context, s database.Session, owner, table string) (string, error) {
	const q = `
		SELECT table_comment
		FROM information_schema.tables
		WHERE table_schema = ?
		  AND table_name   = ?`

	var comment string
	if err := s.QueryRow(ctx, q, owner, table).Scan(&comment); err != nil {
		return "", err
	}
	return comment, nil
}

// Columns returns column definitions in ordinal order. MySQL keeps the
// column comment on the same catalog row, so no separate comment join is
// needed.
func (m *MyIntrospector) Columns(ctx context.Context, s database.Session, owner, table string) ([]Column, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       character_maximum_length,
		       character_octet_length,
		       numeric_precision,
		       numeric_scale,
		       is_nullable = 'YES',
		       column_default,
		       column_comment
		FROM information_schema.columns
		WHERE table_schema = ?
		  AND table_name   = ?
		ORDER BY ordinal_position`

	rows, err := s.Query(ctx, q, owner, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			col       Column
			charLen   *int
			octetLen  *int
			precision *int
			scale     *int
		)
		if err := rows.Scan(
			&col.Name,
			&col.DataType,
			&charLen,
			&octetLen,
			&precision,
			&scale,
			&col.Nullable,
			&col.Default,
			&col.Comment,
		); err != nil {
			return nil, err
		}

		col.Length = resolveLength(charLen, octetLen)
		col.Precision = precision
		col.Scale = scale
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// PrimaryKeys returns the primary key columns with their 1-based
// positions. MySQL names every primary key constraint PRIMARY.
func (m *MyIntrospector) PrimaryKeys(ctx context.Context, s database.Session, owner, table string) ([]PrimaryKey, error) {
	const q = `
		SELECT column_name,
		       ordinal_position,
		       constraint_name
		FROM information_schema.key_column_usage
		WHERE table_schema    = ?
		  AND table_name      = ?
		  AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`

	rows, err := s.Query(ctx, q, owner, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []PrimaryKey
	for rows.Next() {
		var pk PrimaryKey
		if err := rows.Scan(&pk.Column, &pk.Position, &pk.Constraint); err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, rows.Err()
}

// ForeignKeys returns foreign key relationships. MySQL's
// key_column_usage carries the referenced side on the same row, already
// position-aligned, so no multi-table join is needed here.
func (m *MyIntrospector) ForeignKeys(ctx context.Context, s database.Session, owner, table string) ([]ForeignKey, error) {
	const q = `
		SELECT column_name,
		       referenced_table_schema,
		       referenced_table_name,
		       referenced_column_name,
		       constraint_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ?
		  AND table_name   = ?
		  AND referenced_table_name IS NOT NULL
		ORDER BY constraint_name, ordinal_position`

	rows, err := s.Query(ctx, q, owner, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefOwner, &fk.RefTable, &fk.RefColumn, &fk.Constraint); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

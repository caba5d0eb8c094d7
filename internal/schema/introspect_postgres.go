package schema

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dbwhisper/dbwhisper/internal/database"
)

// PgIntrospector implements Introspector for PostgreSQL. Catalog queries
// use named parameters throughout: four lookups per table with ordinal
// placeholders is exactly where positional mix-ups happen.
type PgIntrospector struct{}

// NewPgIntrospector creates a PostgreSQL catalog introspector.
func NewPgIntrospector() *PgIntrospector {
	return &PgIntrospector{}
}

// ListTables returns all user-defined base tables owned by owner.
func (p *PgIntrospector) ListTables(ctx context.Context, s database.Session, owner string) ([]string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = @owner
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := s.Query(ctx, q, pgx.NamedArgs{"owner": owner})
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

// TableComment reads the table-level comment from pg_description.
func (p *PgIntrospector) TableComment(ctx context.Context, s database.Session, owner, table string) (string, error) {
	const q = `
		SELECT obj_description(c.oid, 'pg_class')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = @owner
		  AND c.relname = @table`

	var comment *string
	err := s.QueryRow(ctx, q, pgx.NamedArgs{"owner": owner, "table": table}).Scan(&comment)
	if err != nil {
		return "", err
	}
	if comment == nil {
		return "", nil
	}
	return *comment, nil
}

// Columns returns column definitions in ordinal order, joined with their
// comments. Character-typed columns report length in characters; the
// octet length is the fallback when no character length exists.
func (p *PgIntrospector) Columns(ctx context.Context, s database.Session, owner, table string) ([]Column, error) {
	const q = `
		SELECT c.column_name,
		       c.data_type,
		       c.character_maximum_length,
		       c.character_octet_length,
		       c.numeric_precision,
		       c.numeric_scale,
		       c.is_nullable = 'YES',
		       c.column_default,
		       col_description(pgc.oid, c.ordinal_position)
		FROM information_schema.columns c
		JOIN pg_class pgc
		  ON pgc.relname = c.table_name
		JOIN pg_namespace pgn
		  ON pgn.oid = pgc.relnamespace
		 AND pgn.nspname = c.table_schema
		WHERE c.table_schema = @owner
		  AND c.table_name   = @table
		ORDER BY c.ordinal_position`

	rows, err := s.Query(ctx, q, pgx.NamedArgs{"owner": owner, "table": table})
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
			comment   *string
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
			&comment,
		); err != nil {
			return nil, err
		}

		col.Length = resolveLength(charLen, octetLen)
		col.Precision = precision
		col.Scale = scale
		if comment != nil {
			col.Comment = *comment
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// PrimaryKeys returns the primary key columns with their 1-based positions.
func (p *PgIntrospector) PrimaryKeys(ctx context.Context, s database.Session, owner, table string) ([]PrimaryKey, error) {
	const q = `
		SELECT kcu.column_name,
		       kcu.ordinal_position,
		       tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema    = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = @owner
		  AND tc.table_name      = @table
		ORDER BY kcu.ordinal_position`

	rows, err := s.Query(ctx, q, pgx.NamedArgs{"owner": owner, "table": table})
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

// ForeignKeys reconstructs foreign key relationships. The join walks
// local key columns to their owning constraint, over to the referenced
// unique constraint, and back down to the referenced key columns,
// matched pairwise by ordinal position so multi-column constraints line
// up column for column.
func (p *PgIntrospector) ForeignKeys(ctx context.Context, s database.Session, owner, table string) ([]ForeignKey, error) {
	const q = `
		SELECT kcu.column_name,
		       rk.table_schema  AS ref_owner,
		       rk.table_name    AS ref_table,
		       rk.column_name   AS ref_column,
		       tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema    = tc.table_schema
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_name   = tc.constraint_name
		 AND rc.constraint_schema = tc.table_schema
		JOIN information_schema.key_column_usage rk
		  ON rk.constraint_name   = rc.unique_constraint_name
		 AND rk.table_schema      = rc.unique_constraint_schema
		 AND rk.ordinal_position  = kcu.position_in_unique_constraint
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema    = @owner
		  AND tc.table_name      = @table
		ORDER BY tc.constraint_name, kcu.ordinal_position`

	rows, err := s.Query(ctx, q, pgx.NamedArgs{"owner": owner, "table": table})
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

// resolveLength prefers the character-semantics length and falls back to
// the byte length when the type has no character length.
func resolveLength(charLen, octetLen *int) *int {
	if charLen != nil {
		return charLen
	}
	return octetLen
}

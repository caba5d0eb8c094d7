package schema

import (
	"context"
	"time"

	"github.com/dbwhisper/dbwhisper/internal/database"
	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

// Introspector implements the catalog lookups for one database engine.
// Every method receives the pinned session so that all lookups within one
// extraction see a consistent catalog snapshot.
type Introspector interface {
	// ListTables returns the names of all base tables owned by owner,
	// in the catalog's native spelling.
	ListTables(ctx context.Context, s database.Session, owner string) ([]string, error)

	// TableComment returns the table-level comment, or "" when absent.
	TableComment(ctx context.Context, s database.Session, owner, table string) (string, error)

	// Columns returns the table's columns in ordinal order, with
	// comments already joined in.
	Columns(ctx context.Context, s database.Session, owner, table string) ([]Column, error)

	// PrimaryKeys returns the primary key columns ordered by position.
	PrimaryKeys(ctx context.Context, s database.Session, owner, table string) ([]PrimaryKey, error)

	// ForeignKeys returns the foreign key columns, local and referenced
	// sides matched pairwise by position within each constraint.
	ForeignKeys(ctx context.Context, s database.Session, owner, table string) ([]ForeignKey, error)
}

// Extractor reconstructs a Schema from catalog metadata. One Extract call
// holds a single database session for all of its catalog queries.
type Extractor struct {
	db      database.DB
	intro   Introspector
	timeout time.Duration
	log     *logger.Logger
}

// NewExtractor wires an Extractor for the given engine introspector.
// timeout bounds the catalog lookups of one Extract call; zero means the
// caller's context is the only bound.
func NewExtractor(db database.DB, intro Introspector, timeout time.Duration, log *logger.Logger) *Extractor {
	return &Extractor{db: db, intro: intro, timeout: timeout, log: log}
}

// Extract introspects every table owned by owner and returns a fresh
// Schema. A table that fails to introspect is logged and skipped; the
// extraction only fails as a whole when the catalog is unreachable or
// when tables were listed but none could be recovered. A schema that
// genuinely owns zero tables yields a valid empty Schema.
func (e *Extractor) Extract(ctx context.Context, owner string) (*Schema, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	session, err := e.db.Session(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIntrospection, "cannot open catalog session", err)
	}
	defer session.Release()

	tables, err := e.intro.ListTables(ctx, session, owner)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIntrospection, "cannot list tables for "+owner, err)
	}

	out := &Schema{
		Owner:  owner,
		Tables: make(map[string]Table, len(tables)),
	}

	for _, name := range tables {
		table, err := e.extractTable(ctx, session, owner, name)
		if err != nil {
			// Partial results are expected for schemas holding object
			// types the introspector cannot read.
			e.log.ErrorWith("skipping table", err, map[string]any{
				"schema": owner,
				"table":  name,
			})
			continue
		}
		out.Tables[TableKey(name)] = table
	}

	if len(tables) > 0 && len(out.Tables) == 0 {
		return nil, errs.New(errs.ErrKindIntrospection, "no recoverable tables in schema "+owner)
	}

	e.log.With().Str("schema", owner).Int("tables", len(out.Tables)).Logger().
		Info("schema extracted")
	return out, nil
}

// extractTable issues the four per-table catalog lookups.
func (e *Extractor) extractTable(ctx context.Context, s database.Session, owner, name string) (Table, error) {
	comment, err := e.intro.TableComment(ctx, s, owner, name)
	if err != nil {
		return Table{}, err
	}

	columns, err := e.intro.Columns(ctx, s, owner, name)
	if err != nil {
		return Table{}, err
	}

	pks, err := e.intro.PrimaryKeys(ctx, s, owner, name)
	if err != nil {
		return Table{}, err
	}

	fks, err := e.intro.ForeignKeys(ctx, s, owner, name)
	if err != nil {
		return Table{}, err
	}

	return Table{
		Name:        name,
		Comment:     comment,
		Columns:     columns,
		PrimaryKeys: pks,
		ForeignKeys: fks,
	}, nil
}

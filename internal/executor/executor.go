// Package executor runs generated SQL and normalizes the outcome into a
// QueryResult. Generated statements are inherently unverified, so every
// execution fault is captured into the result; nothing escalates past
// this boundary.
package executor

import (
	"context"
	"time"

	"github.com/dbwhisper/dbwhisper/internal/database"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

// QueryResult is the normalized outcome of one statement execution. On
// success, Columns holds the names in catalog-reported order and each row
// maps column name to value; zero rows with populated columns is still a
// success. On failure, Error carries the fault message and SQL the
// offending statement verbatim.
type QueryResult struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"rows,omitempty"`
	RowCount int              `json:"row_count"`
	Error    string           `json:"error,omitempty"`
	SQL      string           `json:"sql,omitempty"`
}

// Adapter executes statements against the target database.
type Adapter struct {
	db      database.DB
	timeout time.Duration
	log     *logger.Logger
}

// New creates an Adapter. timeout bounds each execution; zero means the
// caller's context is the only bound.
func New(db database.DB, timeout time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{db: db, timeout: timeout, log: log}
}

// Execute runs sql and returns its normalized result. The returned value
// is never nil and the method never returns an error: malformed generated
// SQL is a reported condition, not a crash.
func (a *Adapter) Execute(ctx context.Context, sql string) *QueryResult {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	rows, err := a.db.Query(ctx, sql)
	if err != nil {
		return a.failure(sql, err)
	}

	columns, data, err := database.ScanRows(rows)
	if err != nil {
		return a.failure(sql, err)
	}

	return &QueryResult{
		Success:  true,
		Columns:  columns,
		Rows:     data,
		RowCount: len(data),
	}
}

func (a *Adapter) failure(sql string, err error) *QueryResult {
	a.log.ErrorWith("statement execution failed", err, map[string]any{"sql": sql})
	return &QueryResult{
		Success: false,
		Error:   err.Error(),
		SQL:     sql,
	}
}

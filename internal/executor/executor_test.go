package executor

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbwhisper/dbwhisper/internal/database"
	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

// fakeRows serves canned rows of (name, value-per-column) data.
type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
	iterErr error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Columns() ([]string, error) { return r.columns, nil }
func (r *fakeRows) Close()                     {}
func (r *fakeRows) Err() error                 { return r.iterErr }

type fakeDB struct {
	rows     *fakeRows
	queryErr error
	gotSQL   string
}

func (d *fakeDB) Ping(ctx context.Context) error { return nil }
func (d *fakeDB) Close()                         {}

func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	d.gotSQL = sql
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return d.rows, nil
}

func (d *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return nil
}

func (d *fakeDB) Session(ctx context.Context) (database.Session, error) {
	return nil, errors.New("not used")
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})
}

func TestExecute_Success(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{
		columns: []string{"last_name", "salary"},
		data: [][]any{
			{"King", 24000},
			{"Kochhar", 17000},
		},
	}}
	a := New(db, 0, testLogger())

	result := a.Execute(context.Background(), "SELECT last_name, salary FROM employees")
	require.True(t, result.Success)

	assert.Equal(t, []string{"last_name", "salary"}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "King", result.Rows[0]["last_name"])
	assert.Equal(t, 17000, result.Rows[1]["salary"])
	assert.Empty(t, result.Error)
}

func TestExecute_EmptyResultIsSuccess(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{columns: []string{"id"}}}
	a := New(db, 0, testLogger())

	result := a.Execute(context.Background(), "SELECT id FROM employees WHERE 1=0")
	require.True(t, result.Success)
	assert.Equal(t, []string{"id"}, result.Columns)
	assert.Equal(t, 0, result.RowCount)
	assert.NotNil(t, result.Rows)
	assert.Empty(t, result.Rows)
}

func TestExecute_FaultBecomesFailureResult(t *testing.T) {
	db := &fakeDB{queryErr: errs.New(errs.ErrKindQueryFailed, `relation "employes" does not exist`)}
	a := New(db, 0, testLogger())

	badSQL := "SELECT * FROM employes"
	result := a.Execute(context.Background(), badSQL)

	require.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, badSQL, result.SQL, "offending statement preserved verbatim")
	assert.Zero(t, result.RowCount)
}

func TestExecute_IterationFaultBecomesFailureResult(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{
		columns: []string{"id"},
		iterErr: errors.New("connection reset mid-stream"),
	}}
	a := New(db, 0, testLogger())

	result := a.Execute(context.Background(), "SELECT id FROM t")
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "connection reset")
	assert.Equal(t, "SELECT id FROM t", result.SQL)
}

func TestExecute_ByteValuesBecomeStrings(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{
		columns: []string{"name"},
		data:    [][]any{{[]byte("Sales")}},
	}}
	a := New(db, 0, testLogger())

	result := a.Execute(context.Background(), "SELECT name FROM departments")
	require.True(t, result.Success)
	assert.Equal(t, "Sales", result.Rows[0]["name"])
}

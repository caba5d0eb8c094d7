package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbwhisper/dbwhisper/internal/config"
	"github.com/dbwhisper/dbwhisper/internal/database"
	"github.com/dbwhisper/dbwhisper/internal/docs"
	"github.com/dbwhisper/dbwhisper/internal/executor"
	"github.com/dbwhisper/dbwhisper/internal/llm"
	"github.com/dbwhisper/dbwhisper/internal/logger"
	"github.com/dbwhisper/dbwhisper/internal/schema"
	"github.com/dbwhisper/dbwhisper/internal/vector"
)

// --- fakes ---

type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
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
func (r *fakeRows) Err() error                 { return nil }

type fakeSession struct{}

func (s *fakeSession) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	return nil, errors.New("not used")
}

func (s *fakeSession) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return nil
}

func (s *fakeSession) Release() {}

type fakeDB struct {
	rows   *fakeRows
	gotSQL string
}

func (d *fakeDB) Ping(ctx context.Context) error { return nil }
func (d *fakeDB) Close()                         {}

func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	d.gotSQL = sql
	if d.rows == nil {
		return nil, errors.New("relation does not exist")
	}
	return d.rows, nil
}

func (d *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return nil
}

func (d *fakeDB) Session(ctx context.Context) (database.Session, error) {
	return &fakeSession{}, nil
}

type fakeIntrospector struct{ tables []string }

func (f *fakeIntrospector) ListTables(ctx context.Context, s database.Session, owner string) ([]string, error) {
	return f.tables, nil
}

func (f *fakeIntrospector) TableComment(ctx context.Context, s database.Session, owner, table string) (string, error) {
	return "", nil
}

func (f *fakeIntrospector) Columns(ctx context.Context, s database.Session, owner, table string) ([]schema.Column, error) {
	return []schema.Column{{Name: "ID", DataType: "integer"}}, nil
}

func (f *fakeIntrospector) PrimaryKeys(ctx context.Context, s database.Session, owner, table string) ([]schema.PrimaryKey, error) {
	return []schema.PrimaryKey{{Column: "ID", Position: 1}}, nil
}

func (f *fakeIntrospector) ForeignKeys(ctx context.Context, s database.Session, owner, table string) ([]schema.ForeignKey, error) {
	return nil, nil
}

// fakeVectorIndex is an in-memory Index that records calls.
type fakeVectorIndex struct {
	units  []docs.RetrievalUnit
	hits   []vector.Hit
	resets int
	adds   int
}

func (f *fakeVectorIndex) Add(ctx context.Context, units []docs.RetrievalUnit) error {
	f.adds++
	f.units = append(f.units, units...)
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, query string, k int) ([]vector.Hit, error) {
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeVectorIndex) Count(ctx context.Context) (int, error) { return len(f.units), nil }

func (f *fakeVectorIndex) Reset(ctx context.Context) error {
	f.resets++
	f.units = nil
	return nil
}

func (f *fakeVectorIndex) Close() error { return nil }

type fakeEmbedder struct{ pinged bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Ping(ctx context.Context) error {
	f.pinged = true
	return nil
}

type fakeCompleter struct {
	reply     string
	gotPrompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.gotPrompt = prompt
	return f.reply, nil
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})
}

// assemble wires a Service from fakes, bypassing New's live connections.
func assemble(db database.DB, intro schema.Introspector, idx vector.Index, completer llm.Completer) *Service {
	log := testLogger()
	cfg := config.Default()
	cfg.Database.DSN = "postgres://test"
	extractor := schema.NewExtractor(db, intro, 0, log)
	return &Service{
		cfg:       cfg,
		db:        db,
		cache:     schema.NewCache(extractor, "hr"),
		index:     idx,
		embedder:  &fakeEmbedder{},
		retriever: vector.NewCoordinator(idx, cfg.Vector.MaxResults, log),
		generator: llm.NewGenerator(completer, log),
		executor:  executor.New(db, 0, log),
		log:       log,
	}
}

// --- tests ---

func TestBuildIndex_FromEmpty(t *testing.T) {
	idx := &fakeVectorIndex{}
	svc := assemble(&fakeDB{}, &fakeIntrospector{tables: []string{"employees"}}, idx, &fakeCompleter{})

	n, err := svc.BuildIndex(context.Background(), false)
	require.NoError(t, err)

	// one TABLE unit plus one COLUMN unit
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, idx.adds)
	assert.Zero(t, idx.resets)
}

func TestBuildIndex_PopulatedIsNoop(t *testing.T) {
	idx := &fakeVectorIndex{units: make([]docs.RetrievalUnit, 3)}
	svc := assemble(&fakeDB{}, &fakeIntrospector{tables: []string{"employees"}}, idx, &fakeCompleter{})

	n, err := svc.BuildIndex(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 3, n, "existing population reported as-is")
	assert.Zero(t, idx.adds)
}

func TestBuildIndex_ForceRebuilds(t *testing.T) {
	idx := &fakeVectorIndex{units: make([]docs.RetrievalUnit, 3)}
	svc := assemble(&fakeDB{}, &fakeIntrospector{tables: []string{"employees"}}, idx, &fakeCompleter{})

	n, err := svc.BuildIndex(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, idx.resets)
	assert.Equal(t, 2, n)
}

func TestGenerateSQL_ContextAndTablesFlowIntoPrompt(t *testing.T) {
	idx := &fakeVectorIndex{hits: []vector.Hit{
		{Body: "Table: EMPLOYEES", Tags: docs.Tags{Kind: docs.UnitTable, TableName: "EMPLOYEES"}, Score: 0.9},
		{Body: "Column: EMPLOYEES.SALARY", Tags: docs.Tags{Kind: docs.UnitColumn, TableName: "EMPLOYEES"}, Score: 0.7},
	}}
	completer := &fakeCompleter{reply: "```sql\nSELECT salary FROM employees\n```"}
	svc := assemble(&fakeDB{}, &fakeIntrospector{}, idx, completer)

	gen, search, err := svc.GenerateSQL(context.Background(), "show salaries")
	require.NoError(t, err)

	assert.Equal(t, "SELECT salary FROM employees", gen.SQL)
	assert.Equal(t, []string{"EMPLOYEES"}, search.Tables)
	assert.Contains(t, completer.gotPrompt, "Table: EMPLOYEES\n---")
	assert.Contains(t, completer.gotPrompt, "Column: EMPLOYEES.SALARY\n---")
}

func TestContextText_SeparatesFragments(t *testing.T) {
	got := contextText(&vector.SearchResult{Context: []vector.Fragment{
		{Body: "first"},
		{Body: "second"},
	}})
	assert.Equal(t, "first\n---\n\nsecond\n---", got)
}

func TestAsk_FullCycle(t *testing.T) {
	idx := &fakeVectorIndex{hits: []vector.Hit{
		{Body: "Table: EMPLOYEES", Tags: docs.Tags{Kind: docs.UnitTable, TableName: "EMPLOYEES"}, Score: 0.9},
	}}
	completer := &fakeCompleter{reply: "SELECT last_name FROM employees"}
	db := &fakeDB{rows: &fakeRows{
		columns: []string{"last_name"},
		data:    [][]any{{"King"}},
	}}
	svc := assemble(db, &fakeIntrospector{}, idx, completer)

	ans, err := svc.Ask(context.Background(), "who works here?")
	require.NoError(t, err)

	assert.Equal(t, "who works here?", ans.Question)
	assert.Equal(t, "SELECT last_name FROM employees", ans.SQL)
	assert.Equal(t, ans.SQL, db.gotSQL, "generated statement executed verbatim")
	require.True(t, ans.Result.Success)
	assert.Equal(t, 1, ans.Result.RowCount)
	assert.Equal(t, []string{"EMPLOYEES"}, ans.Tables)
	require.Len(t, ans.Context, 1)
}

func TestAsk_ExecutionFaultStaysInAnswer(t *testing.T) {
	idx := &fakeVectorIndex{hits: []vector.Hit{
		{Body: "Table: EMPLOYEES", Tags: docs.Tags{Kind: docs.UnitTable, TableName: "EMPLOYEES"}, Score: 0.9},
	}}
	completer := &fakeCompleter{reply: "SELECT * FROM missing"}
	svc := assemble(&fakeDB{rows: nil}, &fakeIntrospector{}, idx, completer)

	ans, err := svc.Ask(context.Background(), "anything")
	require.NoError(t, err, "execution faults never surface as errors")

	assert.False(t, ans.Result.Success)
	assert.Contains(t, ans.Result.Error, "relation does not exist")
	assert.Equal(t, "SELECT * FROM missing", ans.Result.SQL)
}

func TestReady_PingsEmbedder(t *testing.T) {
	emb := &fakeEmbedder{}
	svc := assemble(&fakeDB{}, &fakeIntrospector{}, &fakeVectorIndex{}, &fakeCompleter{})
	svc.embedder = emb

	require.NoError(t, svc.Ready(context.Background()))
	assert.True(t, emb.pinged)
}

func TestExtractMetadata_CachedUntilForced(t *testing.T) {
	intro := &fakeIntrospector{tables: []string{"employees"}}
	svc := assemble(&fakeDB{}, intro, &fakeVectorIndex{}, &fakeCompleter{})

	first, err := svc.ExtractMetadata(context.Background(), false)
	require.NoError(t, err)

	intro.tables = append(intro.tables, "departments")

	cached, err := svc.ExtractMetadata(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, cached.Tables, len(first.Tables), "unforced read serves the cache")

	fresh, err := svc.ExtractMetadata(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, fresh.Tables, 2)
}

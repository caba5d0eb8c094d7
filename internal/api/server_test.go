package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/executor"
	"github.com/dbwhisper/dbwhisper/internal/llm"
	"github.com/dbwhisper/dbwhisper/internal/logger"
	"github.com/dbwhisper/dbwhisper/internal/schema"
	"github.com/dbwhisper/dbwhisper/internal/service"
	"github.com/dbwhisper/dbwhisper/internal/vector"
)

type fakePipeline struct {
	readyErr   error
	answer     *service.Answer
	askErr     error
	gen        *llm.SQLGenerationResult
	genErr     error
	meta       *schema.Schema
	metaForce  bool
	buildUnits int
	buildForce bool
	buildErr   error
}

func (f *fakePipeline) Ready(ctx context.Context) error { return f.readyErr }

func (f *fakePipeline) ExtractMetadata(ctx context.Context, force bool) (*schema.Schema, error) {
	f.metaForce = force
	return f.meta, nil
}

func (f *fakePipeline) BuildIndex(ctx context.Context, force bool) (int, error) {
	f.buildForce = force
	return f.buildUnits, f.buildErr
}

func (f *fakePipeline) GenerateSQL(ctx context.Context, question string) (*llm.SQLGenerationResult, *vector.SearchResult, error) {
	if f.genErr != nil {
		return nil, nil, f.genErr
	}
	return f.gen, &vector.SearchResult{}, nil
}

func (f *fakePipeline) ExecuteQuery(ctx context.Context, sql string) *executor.QueryResult {
	return &executor.QueryResult{Success: true, SQL: sql}
}

func (f *fakePipeline) Ask(ctx context.Context, question string) (*service.Answer, error) {
	return f.answer, f.askErr
}

func newTestServer(p *fakePipeline) *Server {
	log := logger.New(&logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})
	return NewServer(p, log)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doJSON(t, newTestServer(&fakePipeline{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthz_NotReady(t *testing.T) {
	p := &fakePipeline{readyErr: errs.New(errs.ErrKindConnectionFailed, "database unreachable")}
	rec := doJSON(t, newTestServer(p), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "connection_failed", body["kind"])
}

func TestAsk(t *testing.T) {
	p := &fakePipeline{answer: &service.Answer{
		Question: "top earners?",
		SQL:      "SELECT last_name FROM employees ORDER BY salary DESC",
		Result:   &executor.QueryResult{Success: true, RowCount: 3},
	}}
	rec := doJSON(t, newTestServer(p), http.MethodPost, "/v1/ask", `{"question":"top earners?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ans service.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ans))
	assert.Equal(t, "top earners?", ans.Question)
	assert.True(t, ans.Result.Success)
}

func TestAsk_MissingQuestion(t *testing.T) {
	rec := doJSON(t, newTestServer(&fakePipeline{}), http.MethodPost, "/v1/ask", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk_MalformedBody(t *testing.T) {
	rec := doJSON(t, newTestServer(&fakePipeline{}), http.MethodPost, "/v1/ask", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSQL_GeneratesWithoutExecuting(t *testing.T) {
	p := &fakePipeline{gen: &llm.SQLGenerationResult{
		SQL:    "SELECT count(*) FROM employees",
		Tables: []string{"EMPLOYEES"},
	}}
	rec := doJSON(t, newTestServer(p), http.MethodPost, "/v1/sql", `{"question":"how many employees?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var gen llm.SQLGenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gen))
	assert.Equal(t, "SELECT count(*) FROM employees", gen.SQL)
	assert.Equal(t, []string{"EMPLOYEES"}, gen.Tables)
}

func TestSQL_GenerationFailure(t *testing.T) {
	p := &fakePipeline{genErr: errs.New(errs.ErrKindGeneration, "empty completion")}
	rec := doJSON(t, newTestServer(p), http.MethodPost, "/v1/sql", `{"question":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSchema_RefreshFlag(t *testing.T) {
	p := &fakePipeline{meta: &schema.Schema{Owner: "hr", Tables: map[string]schema.Table{}}}
	srv := newTestServer(p)

	rec := doJSON(t, srv, http.MethodGet, "/v1/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, p.metaForce)

	rec = doJSON(t, srv, http.MethodGet, "/v1/schema?refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.metaForce)
}

func TestRebuild(t *testing.T) {
	p := &fakePipeline{buildUnits: 12}
	rec := doJSON(t, newTestServer(p), http.MethodPost, "/v1/index/rebuild", `{"force":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, p.buildForce)
	assert.JSONEq(t, `{"units":12}`, rec.Body.String())
}

func TestRebuild_EmptyBody(t *testing.T) {
	p := &fakePipeline{buildUnits: 4}
	req := httptest.NewRequest(http.MethodPost, "/v1/index/rebuild", nil)
	rec := httptest.NewRecorder()
	newTestServer(p).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, p.buildForce)
}

func TestRebuild_ChunkedBody(t *testing.T) {
	p := &fakePipeline{buildUnits: 12}
	// wrap the reader so the request carries no Content-Length, as a
	// chunked client would
	body := io.MultiReader(strings.NewReader(`{"force":true}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/index/rebuild", body)
	rec := httptest.NewRecorder()
	newTestServer(p).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.buildForce, "force must be honoured without a Content-Length header")
}

func TestRebuild_MalformedBody(t *testing.T) {
	rec := doJSON(t, newTestServer(&fakePipeline{}), http.MethodPost, "/v1/index/rebuild", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		kind errs.ErrKind
		want int
	}{
		{errs.ErrKindInvalidInput, http.StatusBadRequest},
		{errs.ErrKindNotFound, http.StatusNotFound},
		{errs.ErrKindTimeout, http.StatusGatewayTimeout},
		{errs.ErrKindConnectionFailed, http.StatusBadGateway},
		{errs.ErrKindRetrieval, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		p := &fakePipeline{askErr: errs.New(tc.kind, "boom")}
		rec := doJSON(t, newTestServer(p), http.MethodPost, "/v1/ask", `{"question":"q"}`)
		assert.Equal(t, tc.want, rec.Code, tc.kind.String())
	}
}

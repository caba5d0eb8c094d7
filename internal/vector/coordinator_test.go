package vector

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbwhisper/dbwhisper/internal/docs"
	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

type fakeIndex struct {
	hits      []Hit
	searchErr error
	gotK      int
}

func (f *fakeIndex) Add(ctx context.Context, units []docs.RetrievalUnit) error { return nil }

func (f *fakeIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	f.gotK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Count(ctx context.Context) (int, error) { return len(f.hits), nil }
func (f *fakeIndex) Reset(ctx context.Context) error        { return nil }
func (f *fakeIndex) Close() error                           { return nil }

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})
}

func rankedHits() []Hit {
	return []Hit{
		{Body: "Table: EMPLOYEES", Tags: docs.Tags{Kind: docs.UnitTable, TableName: "EMPLOYEES"}, Score: 0.92},
		{Body: "Column: EMPLOYEES.DEPARTMENT_ID", Tags: docs.Tags{Kind: docs.UnitColumn, TableName: "EMPLOYEES", ColumnName: "DEPARTMENT_ID"}, Score: 0.88},
		{Body: "Table: DEPARTMENTS", Tags: docs.Tags{Kind: docs.UnitTable, TableName: "DEPARTMENTS"}, Score: 0.75},
		{Body: "Column: DEPARTMENTS.DEPARTMENT_ID", Tags: docs.Tags{Kind: docs.UnitColumn, TableName: "DEPARTMENTS", ColumnName: "DEPARTMENT_ID"}, Score: 0.61},
	}
}

func TestRetrieve_OrderPreservingAndDeduplicating(t *testing.T) {
	idx := &fakeIndex{hits: rankedHits()}
	c := NewCoordinator(idx, 5, testLogger())

	result, err := c.Retrieve(context.Background(), "who works in sales?", 5)
	require.NoError(t, err)

	// context keeps rank order
	require.Len(t, result.Context, 4)
	for i, hit := range rankedHits() {
		assert.Equal(t, hit.Body, result.Context[i].Body)
		assert.Equal(t, hit.Score, result.Context[i].Score)
	}

	// duplicate table tags collapse to one candidate each
	assert.ElementsMatch(t, []string{"EMPLOYEES", "DEPARTMENTS"}, result.Tables)
}

func TestRetrieve_ClampsK(t *testing.T) {
	idx := &fakeIndex{hits: rankedHits()}
	c := NewCoordinator(idx, 3, testLogger())

	_, err := c.Retrieve(context.Background(), "q", 50)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.gotK)

	_, err = c.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.gotK)

	_, err = c.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.gotK)
}

func TestRetrieve_DefaultMax(t *testing.T) {
	idx := &fakeIndex{hits: rankedHits()}
	c := NewCoordinator(idx, 0, testLogger())

	_, err := c.Retrieve(context.Background(), "q", 100)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxResults, idx.gotK)
}

func TestRetrieve_EmptyQuestion(t *testing.T) {
	c := NewCoordinator(&fakeIndex{}, 5, testLogger())

	_, err := c.Retrieve(context.Background(), "", 5)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestRetrieve_IndexFailure(t *testing.T) {
	idx := &fakeIndex{searchErr: errors.New("store is gone")}
	c := NewCoordinator(idx, 5, testLogger())

	_, err := c.Retrieve(context.Background(), "q", 5)
	require.Error(t, err)
	assert.True(t, errs.IsRetrieval(err))
}

func TestRetrieve_NoHits(t *testing.T) {
	c := NewCoordinator(&fakeIndex{}, 5, testLogger())

	result, err := c.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Tables)
	assert.Empty(t, result.Context)
}

func TestPopulated(t *testing.T) {
	ok, err := Populated(context.Background(), &fakeIndex{})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Populated(context.Background(), &fakeIndex{hits: rankedHits()})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	// mismatched or zero vectors rank last, not error
	assert.Equal(t, 0.0, cosine([]float32{1, 0}, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{0, 0}))
}

func TestVectorEncodingRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75, 0}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
}

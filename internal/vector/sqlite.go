package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dbwhisper/dbwhisper/internal/docs"
	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS units (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	kind   TEXT NOT NULL,
	body   TEXT NOT NULL,
	tags   TEXT NOT NULL,
	vector BLOB NOT NULL
);
`

// SQLiteIndex persists embedded retrieval units in a SQLite file under the
// configured directory and ranks them by cosine similarity. Schema corpora
// are small (one unit per table and column), so a full scan per query is
// the honest implementation; anything smarter belongs in a dedicated ANN
// backend behind the same Index interface.
type SQLiteIndex struct {
	db       *sql.DB
	embedder Embedder
	log      *logger.Logger
}

// NewSQLiteIndex opens (creating if needed) the index stored under dir.
func NewSQLiteIndex(dir string, embedder Embedder, log *logger.Logger) (*SQLiteIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot create index directory", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot open index store", err)
	}

	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot apply index schema", err)
	}

	return &SQLiteIndex{db: db, embedder: embedder, log: log}, nil
}

// Add embeds each unit body and stores it with its tags.
func (s *SQLiteIndex) Add(ctx context.Context, units []docs.RetrievalUnit) error {
	if len(units) == 0 {
		s.log.Warn("no units to index")
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.ErrKindRetrieval, "cannot start index transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO units (kind, body, tags, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.ErrKindRetrieval, "cannot prepare insert", err)
	}
	defer stmt.Close()

	for _, u := range units {
		vec, err := s.embedder.Embed(ctx, u.Body)
		if err != nil {
			return err
		}

		tags, err := json.Marshal(u.Tags)
		if err != nil {
			return errs.Wrap(errs.ErrKindRetrieval, "cannot encode unit tags", err)
		}

		if _, err := stmt.ExecContext(ctx, string(u.Kind), u.Body, tags, encodeVector(vec)); err != nil {
			return errs.Wrap(errs.ErrKindRetrieval, "cannot store unit", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.ErrKindRetrieval, "cannot commit index transaction", err)
	}

	s.log.Infof("indexed %d units", len(units))
	return nil
}

// Search embeds the query and returns the k most similar units.
func (s *SQLiteIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body, tags, vector FROM units`)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot scan index", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			body    string
			tagJSON []byte
			blob    []byte
		)
		if err := rows.Scan(&body, &tagJSON, &blob); err != nil {
			return nil, errs.Wrap(errs.ErrKindRetrieval, "cannot read stored unit", err)
		}

		var tags docs.Tags
		if err := json.Unmarshal(tagJSON, &tags); err != nil {
			return nil, errs.Wrap(errs.ErrKindRetrieval, "corrupt unit tags", err)
		}

		hits = append(hits, Hit{
			Body:  body,
			Tags:  tags,
			Score: cosine(queryVec, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "error scanning index", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored units.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units`).Scan(&n); err != nil {
		return 0, errs.Wrap(errs.ErrKindRetrieval, "cannot count units", err)
	}
	return n, nil
}

// Reset drops all stored units.
func (s *SQLiteIndex) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM units`); err != nil {
		return errs.Wrap(errs.ErrKindRetrieval, "cannot clear index", err)
	}
	s.log.Info("index cleared")
	return nil
}

// Close releases the underlying store.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// --- vector encoding ---

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector is the inverse of encodeVector.
func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosine computes cosine similarity. Length mismatch or a zero vector
// scores 0 rather than erroring; such units simply rank last.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

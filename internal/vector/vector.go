// Package vector provides semantic retrieval over synthesized schema
// documents: an embedding client, a persistent index, and the coordinator
// that reduces ranked hits into a search result.
package vector

import (
	"context"

	"github.com/dbwhisper/dbwhisper/internal/docs"
)

// Hit is one ranked result from the index.
type Hit struct {
	Body  string
	Tags  docs.Tags
	Score float64
}

// Index is the retrieval capability the pipeline consumes. The on-disk
// layout belongs to the implementation; callers only ask whether a
// populated index exists before deciding to (re)build.
type Index interface {
	// Add embeds and stores the given units.
	Add(ctx context.Context, units []docs.RetrievalUnit) error

	// Search returns up to k hits ranked by similarity to the query text.
	Search(ctx context.Context, query string, k int) ([]Hit, error)

	// Count returns the number of stored units.
	Count(ctx context.Context) (int, error)

	// Reset drops all stored units.
	Reset(ctx context.Context) error

	// Close releases the underlying store.
	Close() error
}

// Populated reports whether idx already holds documents.
func Populated(ctx context.Context, idx Index) (bool, error) {
	n, err := idx.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Embedder turns text into a vector. Implementations must surface
// connectivity problems from Ping rather than on first incidental use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Ping(ctx context.Context) error
}

// Fragment is one piece of retrieved context, in rank order.
type Fragment struct {
	Body  string    `json:"content"`
	Tags  docs.Tags `json:"tags"`
	Score float64   `json:"score"`
}

// SearchResult is the reduction of a similarity query: the deduplicated
// candidate tables plus the rank-ordered context fragments.
type SearchResult struct {
	Tables  []string   `json:"tables"`
	Context []Fragment `json:"context"`
}

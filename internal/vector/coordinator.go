package vector

import (
	"context"

	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
)

// DefaultMaxResults caps k when no limit is configured.
const DefaultMaxResults = 5

// Coordinator runs similarity queries and reduces the ranked hits into a
// SearchResult. It performs no re-ranking and no thresholding; the index
// owns the ranking, the coordinator is a pure reduction over it.
type Coordinator struct {
	index      Index
	maxResults int
	log        *logger.Logger
}

// NewCoordinator creates a Coordinator over idx. maxResults bounds k for
// every query; non-positive values fall back to DefaultMaxResults.
func NewCoordinator(idx Index, maxResults int, log *logger.Logger) *Coordinator {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Coordinator{index: idx, maxResults: maxResults, log: log}
}

// Retrieve issues one similarity query for the raw question text. Every
// hit's table tag lands in the deduplicated candidate set; every hit's
// body joins the context list in rank order. k is clamped to the
// configured maximum; non-positive k means "use the maximum".
func (c *Coordinator) Retrieve(ctx context.Context, question string, k int) (*SearchResult, error) {
	if question == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "question must not be empty")
	}
	if k <= 0 || k > c.maxResults {
		k = c.maxResults
	}

	hits, err := c.index.Search(ctx, question, k)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindRetrieval, "similarity search failed", err)
	}

	result := &SearchResult{
		Tables:  make([]string, 0, len(hits)),
		Context: make([]Fragment, 0, len(hits)),
	}

	seen := make(map[string]bool, len(hits))
	for _, hit := range hits {
		if name := hit.Tags.TableName; name != "" && !seen[name] {
			seen[name] = true
			result.Tables = append(result.Tables, name)
		}
		result.Context = append(result.Context, Fragment{
			Body:  hit.Body,
			Tags:  hit.Tags,
			Score: hit.Score,
		})
	}

	c.log.Debugf("retrieved %d fragments across %d tables", len(result.Context), len(result.Tables))
	return result, nil
}

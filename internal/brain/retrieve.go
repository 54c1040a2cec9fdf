package brain

import (
	"context"
	"log/slog"
	"time"

	"github.com/modinired/cesar-brain/internal/store"
)

// defaultMinScore is the similarity floor below which a query returns
// an empty context instead of a weak guess.
const defaultMinScore = 0.25

// touchTimeout bounds the best-effort recency bump. Reads must never
// be serialized behind writers for long.
const touchTimeout = 500 * time.Millisecond

// Context is the read-path payload handed to agents: a best-matching
// primary node plus its ranked neighbors.
type Context struct {
	Primary   *store.Node      `json:"primary_node,omitempty"`
	Neighbors []store.Neighbor `json:"neighbors"`
	Score     float64          `json:"score,omitempty"`
}

// Empty reports whether the query cleared the similarity threshold.
func (c *Context) Empty() bool {
	return c.Primary == nil
}

// Retriever resolves queries to graph context. Read-only apart from a
// best-effort access bump on the primary node.
type Retriever struct {
	db       *store.DB
	scorer   store.SimilarityScorer
	minScore float64
	log      *slog.Logger
}

// NewRetriever creates a ContextRetriever. minScore 0 means the
// default threshold.
func NewRetriever(db *store.DB, scorer store.SimilarityScorer, minScore float64, log *slog.Logger) *Retriever {
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{
		db:       db,
		scorer:   scorer,
		minScore: minScore,
		log:      log.With("component", "retriever"),
	}
}

// GetBrainContext resolves the best match for a query. When nothing
// clears the minimum score, it returns an empty context rather than a
// low-confidence node.
func (r *Retriever) GetBrainContext(ctx context.Context, query string, maxNeighbors int) (*Context, error) {
	q := r.db.Q()

	matches, err := q.FindBySimilarity(ctx, r.scorer, query, 5, r.minScore)
	if err != nil {
		return nil, classify(err)
	}
	if len(matches) == 0 {
		return &Context{}, nil
	}

	primary := matches[0].Node
	neighbors, err := q.ListNeighbors(ctx, primary.ID, maxNeighbors)
	if err != nil {
		return nil, classify(err)
	}

	// Best-effort recency bumps: under write contention the bumps are
	// skipped rather than blocking the read.
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
	defer cancel()
	if err := q.TouchNode(touchCtx, primary.ID); err != nil {
		r.log.Debug("access bump skipped", "node", primary.ID, "error", err)
	} else {
		primary.AccessCount++
	}
	for _, nb := range neighbors {
		if err := q.TouchLink(touchCtx, nb.LinkID); err != nil {
			r.log.Debug("traversal bump skipped", "link", nb.LinkID, "error", err)
			break
		}
	}

	return &Context{
		Primary:   &primary,
		Neighbors: neighbors,
		Score:     matches[0].Score,
	}, nil
}

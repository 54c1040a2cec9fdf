// Package brain implements the shared knowledge graph engine: the
// mutation action vocabulary, context retrieval, importance decay, and
// replay export, all over a transactional SQLite store. Everything
// else in the fleet (dashboards, pollers, LLM routers) is a thin
// client of this package.
package brain

import (
	"context"
	"log/slog"
	"time"

	"github.com/modinired/cesar-brain/internal/store"
)

// Options configures a Brain. Zero values mean defaults.
type Options struct {
	Scorer        store.SimilarityScorer
	MinSimilarity float64
	RetryAttempts int
	DecayWindow   time.Duration
	HalfLife      time.Duration
	ExportMinMass float64
	Logger        *slog.Logger
}

// Brain bundles the engine components around one store. It is handed
// to every caller as a single injected instance; concurrency is
// arbitrated by the store's transaction and CAS mechanics, not by
// in-process locks.
type Brain struct {
	Engine    *Engine
	Retriever *Retriever
	Scheduler *Scheduler
	Exporter  *Exporter

	db *store.DB
}

// New wires up the engine components over a store.
func New(db *store.DB, opts Options) *Brain {
	if opts.Scorer == nil {
		opts.Scorer = store.LexicalScorer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	engine := NewEngine(db, opts.Scorer, opts.RetryAttempts, opts.Logger)
	return &Brain{
		Engine:    engine,
		Retriever: NewRetriever(db, opts.Scorer, opts.MinSimilarity, opts.Logger),
		Scheduler: NewScheduler(db, engine, opts.DecayWindow, opts.HalfLife, opts.Logger),
		Exporter:  NewExporter(db, opts.ExportMinMass, opts.Logger),
		db:        db,
	}
}

// Stats summarizes graph state for dashboards and health checks.
type Stats struct {
	Nodes     int            `json:"nodes"`
	Links     int            `json:"links"`
	Mutations int            `json:"mutations"`
	Layers    map[string]int `json:"layers"`
}

// Stats reads current graph counts.
func (b *Brain) Stats(ctx context.Context) (Stats, error) {
	q := b.db.Q()
	var s Stats
	var err error

	if s.Nodes, err = q.CountNodes(ctx); err != nil {
		return s, classify(err)
	}
	if s.Links, err = q.CountLinks(ctx); err != nil {
		return s, classify(err)
	}
	if s.Mutations, err = q.CountMutations(ctx); err != nil {
		return s, classify(err)
	}
	if s.Layers, err = q.CountByLayer(ctx); err != nil {
		return s, classify(err)
	}
	return s, nil
}

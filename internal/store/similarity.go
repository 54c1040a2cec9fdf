package store

import (
	"context"
	"sort"
	"strings"
)

// SimilarityScorer abstracts how a query is matched against a node's
// similarity signature. The default is lexical n-gram overlap; a
// vector-embedding implementation can be substituted without touching
// the rest of the engine.
type SimilarityScorer interface {
	// Signature derives the stored (opaque, scorer-specific) signature
	// from a node's label and description.
	Signature(label, description string) string
	// Score returns a similarity in [0, 1] between a query and a
	// stored signature.
	Score(query, signature string) float64
}

// LexicalScorer scores by character n-gram coverage of the query
// against the signature text. Cheap, deterministic, no embeddings.
type LexicalScorer struct {
	N int // n-gram size; 0 means bigrams
}

func (s LexicalScorer) n() int {
	if s.N <= 0 {
		return 2
	}
	return s.N
}

// Signature normalizes label + description into lowercase text.
func (s LexicalScorer) Signature(label, description string) string {
	text := label
	if description != "" {
		text += " " + description
	}
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Score returns the fraction of the query's n-grams present in the
// signature. Asymmetric on purpose: a short query fully contained in a
// long signature is a strong match.
func (s LexicalScorer) Score(query, signature string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || signature == "" {
		return 0
	}
	if query == signature {
		return 1
	}

	qGrams := ngrams(query, s.n())
	sGrams := ngrams(signature, s.n())
	if len(qGrams) == 0 || len(sGrams) == 0 {
		if strings.Contains(signature, query) {
			return 1
		}
		return 0
	}

	shared := 0
	for g := range qGrams {
		if sGrams[g] {
			shared++
		}
	}
	return float64(shared) / float64(len(qGrams))
}

func ngrams(s string, n int) map[string]bool {
	if len(s) < n {
		return nil
	}
	m := make(map[string]bool, len(s)-n+1)
	for i := 0; i+n <= len(s); i++ {
		m[s[i:i+n]] = true
	}
	return m
}

// ScoredNode pairs a node with its similarity score.
type ScoredNode struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// FindBySimilarity scores all active nodes against the query and
// returns up to topK results at or above minScore, best first. Results
// below minScore are excluded, not ranked last. Ties break by mass
// desc, then last_accessed desc, then id asc.
func (q *Queries) FindBySimilarity(ctx context.Context, scorer SimilarityScorer, query string, topK int, minScore float64) ([]ScoredNode, error) {
	if topK <= 0 {
		topK = 10
	}

	nodes, err := q.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var results []ScoredNode
	for _, n := range nodes {
		sig := n.Signature
		if sig == "" {
			sig = scorer.Signature(n.Label, n.Description)
		}
		score := scorer.Score(query, sig)
		if score < minScore {
			continue
		}
		results = append(results, ScoredNode{Node: n, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Node.Mass != results[j].Node.Mass {
			return results[i].Node.Mass > results[j].Node.Mass
		}
		if results[i].Node.LastAccessed != results[j].Node.LastAccessed {
			return results[i].Node.LastAccessed > results[j].Node.LastAccessed
		}
		return results[i].Node.ID < results[j].Node.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

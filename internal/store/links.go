package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Link type constants.
const (
	LinkSemantic     = "semantic"
	LinkCausal       = "causal"
	LinkTemporal     = "temporal"
	LinkHierarchical = "hierarchical"
)

var validLinkTypes = map[string]bool{
	LinkSemantic:     true,
	LinkCausal:       true,
	LinkTemporal:     true,
	LinkHierarchical: true,
}

// ValidLinkType reports whether t is one of the link type constants.
func ValidLinkType(t string) bool {
	return validLinkTypes[t]
}

// ClampStrength bounds a link strength into [0, 1].
func ClampStrength(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Link is a directed, weighted relationship between two nodes.
type Link struct {
	ID             string  `json:"id"`
	SourceID       string  `json:"source_id"`
	TargetID       string  `json:"target_id"`
	Strength       float64 `json:"strength"`
	LinkType       string  `json:"link_type"`
	Weight         float64 `json:"weight"`
	LastTraversed  int64   `json:"last_traversed"`
	TraversalCount int     `json:"traversal_count"`
	CreatedAt      int64   `json:"created_at"`
}

// Neighbor is a node reached over a link, carrying the link attributes
// used for ranking.
type Neighbor struct {
	Node          Node    `json:"node"`
	LinkID        string  `json:"link_id"`
	Strength      float64 `json:"strength"`
	LinkType      string  `json:"link_type"`
	LastTraversed int64   `json:"last_traversed"`
}

const linkColumns = `id, source_id, target_id, strength, link_type, weight,
	last_traversed, traversal_count, created_at`

// CreateLink inserts a new link. Strength is clamped to [0, 1].
func (q *Queries) CreateLink(ctx context.Context, l *Link) error {
	now := time.Now().UnixMilli()
	l.Strength = ClampStrength(l.Strength)
	if l.LinkType == "" {
		l.LinkType = LinkSemantic
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO links (id, source_id, target_id, strength, link_type, weight,
			last_traversed, traversal_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, l.ID, l.SourceID, l.TargetID, l.Strength, l.LinkType, l.Weight, now, now)
	if err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	l.LastTraversed = now
	l.CreatedAt = now
	return nil
}

// GetLink returns a link by id, or nil if not found.
func (q *Queries) GetLink(ctx context.Context, id string) (*Link, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	l, err := scanLinkFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

// GetLinkBetween returns the directed link from source to target,
// or nil if none exists.
func (q *Queries) GetLinkBetween(ctx context.Context, sourceID, targetID string) (*Link, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM links WHERE source_id = ? AND target_id = ?
	`, sourceID, targetID)
	l, err := scanLinkFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get link between: %w", err)
	}
	return l, nil
}

// UpdateLinkStrength overwrites a link's strength (clamped) together
// with the raw weight it was derived from, so the pair never drifts.
func (q *Queries) UpdateLinkStrength(ctx context.Context, id string, strength, weight float64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE links SET strength = ?, weight = ? WHERE id = ?",
		ClampStrength(strength), weight, id)
	if err != nil {
		return fmt.Errorf("update link strength: %w", err)
	}
	return nil
}

// TouchLink bumps last_traversed and traversal_count.
func (q *Queries) TouchLink(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		UPDATE links SET last_traversed = ?, traversal_count = traversal_count + 1
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch link: %w", err)
	}
	return nil
}

// DeleteLink removes a link by id.
func (q *Queries) DeleteLink(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM links WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete link %s: %w", id, err)
	}
	return nil
}

// RepointLink moves one endpoint of a link to a new node id. Used by
// merge rewiring; the caller is responsible for self-loop and
// parallel-link checks.
func (q *Queries) RepointLink(ctx context.Context, id, newSourceID, newTargetID string) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE links SET source_id = ?, target_id = ? WHERE id = ?",
		newSourceID, newTargetID, id)
	if err != nil {
		return fmt.Errorf("repoint link %s: %w", id, err)
	}
	return nil
}

// ListLinksTouching returns all links where the node is either
// endpoint, ordered by creation for stable iteration.
func (q *Queries) ListLinksTouching(ctx context.Context, nodeID string) ([]Link, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM links
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at ASC, id ASC
	`, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list links touching: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// ListNeighbors returns up to max neighbors of a node (either link
// direction), ordered by link strength desc, neighbor mass desc, then
// most recent traversal. Tombstoned neighbors are excluded.
func (q *Queries) ListNeighbors(ctx context.Context, nodeID string, max int) ([]Neighbor, error) {
	if max <= 0 {
		max = 10
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT n.id, n.label, n.node_type, n.category, n.x, n.y, n.z_index, n.mass,
			n.signature, n.cluster_id, n.description, n.metadata, n.redirected_to,
			n.last_accessed, n.access_count, n.last_decay_at, n.version, n.created_at,
			l.id, l.strength, l.link_type, l.last_traversed
		FROM links l
		JOIN nodes n ON n.id = CASE WHEN l.source_id = ? THEN l.target_id ELSE l.source_id END
		WHERE (l.source_id = ? OR l.target_id = ?) AND n.redirected_to IS NULL
		ORDER BY l.strength DESC, n.mass DESC, l.last_traversed DESC, n.id ASC
		LIMIT ?
	`, nodeID, nodeID, nodeID, max)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var nb Neighbor
		var n Node
		var clusterID, redirectedTo, lastDecayAt sql.NullString
		var meta string
		if err := rows.Scan(&n.ID, &n.Label, &n.Type, &n.Category, &n.X, &n.Y,
			&n.ZIndex, &n.Mass, &n.Signature, &clusterID, &n.Description,
			&meta, &redirectedTo, &n.LastAccessed, &n.AccessCount,
			&lastDecayAt, &n.Version, &n.CreatedAt,
			&nb.LinkID, &nb.Strength, &nb.LinkType, &nb.LastTraversed); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		n.ClusterID = clusterID.String
		n.RedirectedTo = redirectedTo.String
		n.LastDecayAt = lastDecayAt.String
		if meta != "" {
			if err := jsonUnmarshalMeta(meta, &n); err != nil {
				return nil, err
			}
		}
		nb.Node = n
		neighbors = append(neighbors, nb)
	}
	return neighbors, rows.Err()
}

// CountLinks returns the number of links in the graph.
func (q *Queries) CountLinks(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM links").Scan(&count)
	return count, err
}

func scanLinkFrom(s scanner) (*Link, error) {
	var l Link
	err := s.Scan(&l.ID, &l.SourceID, &l.TargetID, &l.Strength, &l.LinkType,
		&l.Weight, &l.LastTraversed, &l.TraversalCount, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanLinks(rows *sql.Rows) ([]Link, error) {
	var links []Link
	for rows.Next() {
		l, err := scanLinkFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Node type constants. Types double as layer hints: raw_data,
// information, knowledge and wisdom name layers directly, while the
// structural types map onto a canonical layer below.
const (
	TypeConcept     = "concept"
	TypeEntity      = "entity"
	TypeProcess     = "process"
	TypeResource    = "resource"
	TypeWisdom      = "wisdom"
	TypeKnowledge   = "knowledge"
	TypeInformation = "information"
	TypeRawData     = "raw_data"
)

// Node categories.
const (
	CategoryStatic    = "static"
	CategoryEphemeral = "ephemeral"
)

// Layer names derived from z_index bands.
const (
	LayerRawData     = "raw_data"     // z [0, 100)
	LayerInformation = "information"  // z [100, 200)
	LayerKnowledge   = "knowledge"    // z [200, 300)
	LayerWisdom      = "wisdom"       // z >= 300
)

// Mass bounds. All writes clamp into this range.
const (
	MassFloor = 1.0
	MassCeil  = 100.0
)

// canonicalZIndex maps a node type to the midpoint of its layer band.
var canonicalZIndex = map[string]int{
	TypeRawData:     50,
	TypeResource:    50,
	TypeInformation: 150,
	TypeEntity:      150,
	TypeProcess:     150,
	TypeKnowledge:   250,
	TypeConcept:     250,
	TypeWisdom:      350,
}

// ValidNodeType reports whether t is one of the node type constants.
func ValidNodeType(t string) bool {
	_, ok := canonicalZIndex[t]
	return ok
}

// CanonicalZIndex returns the default z_index for a node type.
func CanonicalZIndex(nodeType string) int {
	return canonicalZIndex[nodeType]
}

// LayerForZIndex maps a z_index to its layer name.
func LayerForZIndex(z int) string {
	switch {
	case z >= 300:
		return LayerWisdom
	case z >= 200:
		return LayerKnowledge
	case z >= 100:
		return LayerInformation
	default:
		return LayerRawData
	}
}

// ClampMass bounds a mass value into [MassFloor, MassCeil].
func ClampMass(m float64) float64 {
	if m < MassFloor {
		return MassFloor
	}
	if m > MassCeil {
		return MassCeil
	}
	return m
}

// Node is a unit of knowledge in the graph.
type Node struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	Type         string            `json:"type"`
	Category     string            `json:"category"`
	X            float64           `json:"x"`
	Y            float64           `json:"y"`
	ZIndex       int               `json:"z_index"`
	Mass         float64           `json:"mass"`
	Signature    string            `json:"similarity_signature,omitempty"`
	ClusterID    string            `json:"cluster_id,omitempty"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RedirectedTo string            `json:"redirected_to,omitempty"`
	LastAccessed int64             `json:"last_accessed"`
	AccessCount  int               `json:"access_count"`
	LastDecayAt  string            `json:"last_decay_at,omitempty"` // UTC date, YYYY-MM-DD
	Version      int64             `json:"version"`
	CreatedAt    int64             `json:"created_at"`
}

// Layer returns the node's layer name derived from its z_index.
func (n *Node) Layer() string {
	return LayerForZIndex(n.ZIndex)
}

const nodeColumns = `id, label, node_type, category, x, y, z_index, mass,
	signature, cluster_id, description, metadata, redirected_to,
	last_accessed, access_count, last_decay_at, version, created_at`

// CreateNode inserts a new node. Mass is clamped and version starts
// at 1. z_index is stored exactly as given; callers that want the
// type's canonical layer set it via CanonicalZIndex.
func (q *Queries) CreateNode(ctx context.Context, n *Node) error {
	now := time.Now().UnixMilli()
	if n.Category == "" {
		n.Category = CategoryEphemeral
	}
	n.Mass = ClampMass(n.Mass)
	if n.Metadata == nil {
		n.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO nodes (id, label, node_type, category, x, y, z_index, mass,
			signature, cluster_id, description, metadata,
			last_accessed, access_count, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, 0, 1, ?)
	`, n.ID, n.Label, n.Type, n.Category, n.X, n.Y, n.ZIndex, n.Mass,
		n.Signature, n.ClusterID, n.Description, string(meta), now, now)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	n.LastAccessed = now
	n.CreatedAt = now
	n.Version = 1
	return nil
}

// GetNodeRaw returns a node by id without resolving redirects,
// or nil if not found.
func (q *Queries) GetNodeRaw(ctx context.Context, id string) (*Node, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// maxRedirectDepth bounds redirect chain resolution. Chains longer than
// this indicate corrupted data.
const maxRedirectDepth = 16

// GetNode returns a node by id, transparently following redirect
// chains left by merges, or nil if not found.
func (q *Queries) GetNode(ctx context.Context, id string) (*Node, error) {
	for i := 0; i < maxRedirectDepth; i++ {
		n, err := q.GetNodeRaw(ctx, id)
		if err != nil || n == nil {
			return n, err
		}
		if n.RedirectedTo == "" {
			return n, nil
		}
		id = n.RedirectedTo
	}
	return nil, fmt.Errorf("redirect chain too deep for node %s", id)
}

// FindByLabel returns the heaviest non-redirected node with the given
// label (case-insensitive), or nil if none exists.
func (q *Queries) FindByLabel(ctx context.Context, label string) (*Node, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE label = ? COLLATE NOCASE AND redirected_to IS NULL
		ORDER BY mass DESC, id ASC LIMIT 1
	`, label)
	return scanNode(row)
}

// UpsertNode writes a node's mutable fields under optimistic
// concurrency: the write fails with ErrVersionConflict if the stored
// version no longer matches expectedVersion.
func (q *Queries) UpsertNode(ctx context.Context, n *Node, expectedVersion int64) error {
	n.Mass = ClampMass(n.Mass)
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE nodes SET label = ?, node_type = ?, category = ?, x = ?, y = ?,
			z_index = ?, mass = ?, signature = ?, cluster_id = NULLIF(?, ''),
			description = ?, metadata = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, n.Label, n.Type, n.Category, n.X, n.Y, n.ZIndex, n.Mass,
		n.Signature, n.ClusterID, n.Description, string(meta),
		n.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("upsert node rows: %w", err)
	}
	if affected == 0 {
		// Row missing entirely is still a conflict from the caller's
		// perspective only if it once existed; disambiguate.
		existing, err := q.GetNodeRaw(ctx, n.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return sql.ErrNoRows
		}
		return fmt.Errorf("node %s at version %d, expected %d: %w",
			n.ID, existing.Version, expectedVersion, ErrVersionConflict)
	}
	n.Version = expectedVersion + 1
	return nil
}

// ApplyMassDelta atomically applies a clamped mass delta in a single
// read-clamp-write statement. Two concurrent deltas on the same node
// both take effect; neither overwrites the other.
func (q *Queries) ApplyMassDelta(ctx context.Context, id string, delta float64) (*Node, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE nodes
		SET mass = MIN(?, MAX(?, mass + ?)), version = version + 1
		WHERE id = ? AND redirected_to IS NULL
	`, MassCeil, MassFloor, delta, id)
	if err != nil {
		return nil, fmt.Errorf("apply mass delta: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("apply mass delta rows: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return q.GetNodeRaw(ctx, id)
}

// ApplyDecayFactor atomically multiplies mass by factor, floored at
// MassFloor, in a single read-clamp-write statement.
func (q *Queries) ApplyDecayFactor(ctx context.Context, id string, factor float64) (*Node, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE nodes
		SET mass = MIN(?, MAX(?, mass * ?)), version = version + 1
		WHERE id = ? AND redirected_to IS NULL
	`, MassCeil, MassFloor, factor, id)
	if err != nil {
		return nil, fmt.Errorf("apply decay factor: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("apply decay factor rows: %w", err)
	}
	if affected == 0 {
		return nil, sql.ErrNoRows
	}
	return q.GetNodeRaw(ctx, id)
}

// TouchNode bumps last_accessed and access_count (retrieval boost).
func (q *Queries) TouchNode(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		UPDATE nodes SET last_accessed = ?, access_count = access_count + 1,
			version = version + 1
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch node: %w", err)
	}
	return nil
}

// SetRedirect tombstones a node by pointing it at its merge survivor.
func (q *Queries) SetRedirect(ctx context.Context, loserID, winnerID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE nodes SET redirected_to = ?, version = version + 1 WHERE id = ?
	`, winnerID, loserID)
	if err != nil {
		return fmt.Errorf("set redirect: %w", err)
	}
	return nil
}

// ListActive returns all non-redirected nodes.
func (q *Queries) ListActive(ctx context.Context) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE redirected_to IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list active nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListByMassDesc returns up to limit non-redirected nodes ordered by
// mass descending, id ascending.
func (q *Queries) ListByMassDesc(ctx context.Context, limit int) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE redirected_to IS NULL
		ORDER BY mass DESC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list by mass: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListByLastAccessedAsc returns up to limit non-redirected nodes
// ordered by least-recently-accessed first.
func (q *Queries) ListByLastAccessedAsc(ctx context.Context, limit int) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes WHERE redirected_to IS NULL
		ORDER BY last_accessed ASC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list by last accessed: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListInactiveSince returns non-redirected nodes whose last_accessed is
// older than the cutoff, least-recently-accessed first.
func (q *Queries) ListInactiveSince(ctx context.Context, cutoff int64) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE redirected_to IS NULL AND last_accessed < ?
		ORDER BY last_accessed ASC, id ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list inactive nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ListExportable returns non-redirected nodes at or above minZIndex and
// minMass, ordered by mass descending, id ascending for deterministic
// export.
func (q *Queries) ListExportable(ctx context.Context, minZIndex int, minMass float64) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE redirected_to IS NULL AND z_index >= ? AND mass >= ?
		ORDER BY mass DESC, id ASC
	`, minZIndex, minMass)
	if err != nil {
		return nil, fmt.Errorf("list exportable nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// SetDecayedMass writes a decayed mass and records the decay date
// marker so the scheduler is idempotent within a calendar day. The
// write does not bump last_accessed: decay must not look like use.
func (q *Queries) SetDecayedMass(ctx context.Context, id string, mass float64, day string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE nodes SET mass = MIN(?, MAX(?, ?)), last_decay_at = ?,
			version = version + 1
		WHERE id = ? AND redirected_to IS NULL
	`, MassCeil, MassFloor, mass, day, id)
	if err != nil {
		return fmt.Errorf("set decayed mass: %w", err)
	}
	return nil
}

// CountNodes returns the number of nodes, excluding merge tombstones.
func (q *Queries) CountNodes(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nodes WHERE redirected_to IS NULL").Scan(&count)
	return count, err
}

// CountByLayer returns active node counts per layer name.
func (q *Queries) CountByLayer(ctx context.Context) (map[string]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT z_index FROM nodes WHERE redirected_to IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("count by layer: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var z int
		if err := rows.Scan(&z); err != nil {
			return nil, fmt.Errorf("scan z_index: %w", err)
		}
		counts[LayerForZIndex(z)]++
	}
	return counts, rows.Err()
}

func jsonUnmarshalMeta(meta string, n *Node) error {
	if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
		return fmt.Errorf("unmarshal metadata for %s: %w", n.ID, err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for node scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanNodeFrom(s scanner) (*Node, error) {
	var n Node
	var clusterID, redirectedTo, lastDecayAt sql.NullString
	var meta string
	err := s.Scan(&n.ID, &n.Label, &n.Type, &n.Category, &n.X, &n.Y,
		&n.ZIndex, &n.Mass, &n.Signature, &clusterID, &n.Description,
		&meta, &redirectedTo, &n.LastAccessed, &n.AccessCount,
		&lastDecayAt, &n.Version, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.ClusterID = clusterID.String
	n.RedirectedTo = redirectedTo.String
	n.LastDecayAt = lastDecayAt.String
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", n.ID, err)
		}
	}
	return &n, nil
}

func scanNode(row *sql.Row) (*Node, error) {
	n, err := scanNodeFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNodeFrom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"time"
)

// ForceField is a named cluster attractor used only for layout and
// visualization. No correctness invariant beyond id uniqueness.
type ForceField struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Radius    float64 `json:"radius"`
	Strength  float64 `json:"strength"`
	Signature string  `json:"signature,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// UpsertField stores or replaces a force field by id.
func (q *Queries) UpsertField(ctx context.Context, f *ForceField) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO force_fields (id, name, x, y, radius, strength, signature, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = ?, x = ?, y = ?, radius = ?, strength = ?, signature = ?
	`, f.ID, f.Name, f.X, f.Y, f.Radius, f.Strength, f.Signature, now,
		f.Name, f.X, f.Y, f.Radius, f.Strength, f.Signature)
	if err != nil {
		return fmt.Errorf("upsert field: %w", err)
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = now
	}
	return nil
}

// ListFields returns all force fields ordered by name.
func (q *Queries) ListFields(ctx context.Context) ([]ForceField, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, x, y, radius, strength, signature, created_at
		FROM force_fields ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []ForceField
	for rows.Next() {
		var f ForceField
		if err := rows.Scan(&f.ID, &f.Name, &f.X, &f.Y, &f.Radius,
			&f.Strength, &f.Signature, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

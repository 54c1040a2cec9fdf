package store

import (
	"context"
	"testing"
	"time"
)

func seedGraph(t *testing.T, db *DB) {
	t.Helper()
	mustCreateNode(t, db, &Node{ID: "hub", Label: "hub", Type: TypeKnowledge, Mass: 50})
	mustCreateNode(t, db, &Node{ID: "strong", Label: "strong", Type: TypeKnowledge, Mass: 10})
	mustCreateNode(t, db, &Node{ID: "heavy", Label: "heavy", Type: TypeKnowledge, Mass: 90})
	mustCreateNode(t, db, &Node{ID: "light", Label: "light", Type: TypeKnowledge, Mass: 5})
}

func mustCreateLink(t *testing.T, db *DB, l *Link) *Link {
	t.Helper()
	if err := db.Q().CreateLink(context.Background(), l); err != nil {
		t.Fatalf("CreateLink %s: %v", l.ID, err)
	}
	return l
}

func TestCreateLink(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGraph(t, db)

	l := mustCreateLink(t, db, &Link{
		ID: "l1", SourceID: "hub", TargetID: "strong", Strength: 0.8, Weight: 0.8,
	})
	if l.LinkType != LinkSemantic {
		t.Errorf("link_type = %q, want default semantic", l.LinkType)
	}

	found, err := db.Q().GetLinkBetween(ctx, "hub", "strong")
	if err != nil {
		t.Fatalf("GetLinkBetween: %v", err)
	}
	if found == nil || found.ID != "l1" {
		t.Fatalf("expected l1, got %+v", found)
	}
}

func TestCreateLinkClampsStrength(t *testing.T) {
	db := testDB(t)
	seedGraph(t, db)

	l := mustCreateLink(t, db, &Link{
		ID: "l1", SourceID: "hub", TargetID: "strong", Strength: 3.5, Weight: 3.5,
	})
	if l.Strength != 1.0 {
		t.Errorf("strength = %f, want clamped to 1.0", l.Strength)
	}
}

func TestSelfLoopRejectedBySchema(t *testing.T) {
	db := testDB(t)
	seedGraph(t, db)

	err := db.Q().CreateLink(context.Background(), &Link{
		ID: "l1", SourceID: "hub", TargetID: "hub", Strength: 0.5,
	})
	if err == nil {
		t.Fatal("expected self-loop insert to fail")
	}
}

func TestListNeighborsOrdering(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGraph(t, db)

	// strength desc first, then neighbor mass desc.
	mustCreateLink(t, db, &Link{ID: "l-strong", SourceID: "hub", TargetID: "strong", Strength: 0.9})
	mustCreateLink(t, db, &Link{ID: "l-heavy", SourceID: "hub", TargetID: "heavy", Strength: 0.5})
	mustCreateLink(t, db, &Link{ID: "l-light", SourceID: "light", TargetID: "hub", Strength: 0.5})

	neighbors, err := db.Q().ListNeighbors(ctx, "hub", 10)
	if err != nil {
		t.Fatalf("ListNeighbors: %v", err)
	}
	if len(neighbors) != 3 {
		t.Fatalf("expected 3 neighbors, got %d", len(neighbors))
	}
	if neighbors[0].Node.ID != "strong" {
		t.Errorf("neighbors[0] = %s, want strong (highest strength)", neighbors[0].Node.ID)
	}
	if neighbors[1].Node.ID != "heavy" {
		t.Errorf("neighbors[1] = %s, want heavy (tie broken by mass)", neighbors[1].Node.ID)
	}
	if neighbors[2].Node.ID != "light" {
		t.Errorf("neighbors[2] = %s, want light", neighbors[2].Node.ID)
	}
}

func TestListNeighborsExcludesTombstones(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGraph(t, db)

	mustCreateLink(t, db, &Link{ID: "l1", SourceID: "hub", TargetID: "strong", Strength: 0.9})
	if err := db.Q().SetRedirect(ctx, "strong", "heavy"); err != nil {
		t.Fatalf("SetRedirect: %v", err)
	}

	neighbors, err := db.Q().ListNeighbors(ctx, "hub", 10)
	if err != nil {
		t.Fatalf("ListNeighbors: %v", err)
	}
	if len(neighbors) != 0 {
		t.Errorf("expected tombstoned neighbor excluded, got %d", len(neighbors))
	}
}

func TestListNeighborsLimit(t *testing.T) {
	db := testDB(t)
	seedGraph(t, db)

	mustCreateLink(t, db, &Link{ID: "l1", SourceID: "hub", TargetID: "strong", Strength: 0.9})
	mustCreateLink(t, db, &Link{ID: "l2", SourceID: "hub", TargetID: "heavy", Strength: 0.8})
	mustCreateLink(t, db, &Link{ID: "l3", SourceID: "hub", TargetID: "light", Strength: 0.7})

	neighbors, err := db.Q().ListNeighbors(context.Background(), "hub", 2)
	if err != nil {
		t.Fatalf("ListNeighbors: %v", err)
	}
	if len(neighbors) != 2 {
		t.Errorf("expected 2 neighbors, got %d", len(neighbors))
	}
}

func TestTouchLink(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGraph(t, db)

	mustCreateLink(t, db, &Link{ID: "l1", SourceID: "hub", TargetID: "strong", Strength: 0.5})

	time.Sleep(2 * time.Millisecond)
	if err := db.Q().TouchLink(ctx, "l1"); err != nil {
		t.Fatalf("TouchLink: %v", err)
	}

	l, _ := db.Q().GetLink(ctx, "l1")
	if l.TraversalCount != 1 {
		t.Errorf("traversal_count = %d, want 1", l.TraversalCount)
	}
	if l.LastTraversed <= l.CreatedAt {
		t.Error("expected last_traversed to advance")
	}
}

func TestRepointAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedGraph(t, db)

	mustCreateLink(t, db, &Link{ID: "l1", SourceID: "strong", TargetID: "light", Strength: 0.5})

	if err := db.Q().RepointLink(ctx, "l1", "heavy", "light"); err != nil {
		t.Fatalf("RepointLink: %v", err)
	}
	l, _ := db.Q().GetLink(ctx, "l1")
	if l.SourceID != "heavy" {
		t.Errorf("source = %s, want heavy", l.SourceID)
	}

	if err := db.Q().DeleteLink(ctx, "l1"); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	gone, _ := db.Q().GetLink(ctx, "l1")
	if gone != nil {
		t.Error("expected link deleted")
	}

	count, _ := db.Q().CountLinks(ctx)
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

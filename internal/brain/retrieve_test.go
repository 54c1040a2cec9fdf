package brain

import (
	"context"
	"testing"
	"time"

	"github.com/modinired/cesar-brain/internal/store"
)

func TestGetBrainContextScenario(t *testing.T) {
	db, b := testBrain(t)
	ctx := context.Background()

	portfolio := createTestNode(t, b, "Portfolio Optimization", store.TypeKnowledge, 25)
	sentiment := createTestNode(t, b, "Sentiment Analysis", store.TypeKnowledge, 18)
	applyOne(t, b, Action{
		Name: ActionCreateLink,
		Params: ActionParams{
			SourceID: portfolio, Target: sentiment,
			Weight: 0.7, LinkType: store.LinkSemantic,
		},
	}, true)

	got, err := b.Retriever.GetBrainContext(ctx, "portfolio", 10)
	if err != nil {
		t.Fatalf("GetBrainContext: %v", err)
	}
	if got.Empty() {
		t.Fatal("expected a primary match")
	}
	if got.Primary.ID != portfolio {
		t.Errorf("primary = %q, want the portfolio node", got.Primary.Label)
	}
	if got.Score < 0.25 {
		t.Errorf("score = %f, below threshold matches must not surface", got.Score)
	}
	if len(got.Neighbors) != 1 || got.Neighbors[0].Node.ID != sentiment {
		t.Fatalf("neighbors = %+v, want just the linked sentiment node", got.Neighbors)
	}
	if got.Neighbors[0].Strength != 0.7 {
		t.Errorf("neighbor strength = %f, want 0.7", got.Neighbors[0].Strength)
	}

	// Retrieval counts as use on the primary only.
	n, _ := db.Q().GetNode(ctx, portfolio)
	if n.AccessCount != 1 {
		t.Errorf("primary access_count = %d, want 1", n.AccessCount)
	}
	nb, _ := db.Q().GetNode(ctx, sentiment)
	if nb.AccessCount != 0 {
		t.Errorf("neighbor access_count = %d, want untouched", nb.AccessCount)
	}
}

func TestGetBrainContextBumpsTraversal(t *testing.T) {
	db, b := testBrain(t)
	ctx := context.Background()

	a := createTestNode(t, b, "Portfolio Optimization", store.TypeKnowledge, 25)
	c := createTestNode(t, b, "Risk Models", store.TypeKnowledge, 18)
	out := applyOne(t, b, Action{
		Name:   ActionCreateLink,
		Params: ActionParams{SourceID: a, Target: c, Weight: 0.8},
	}, true)
	linkID := out.Result.LinkID

	before, _ := db.Q().GetLink(ctx, linkID)
	time.Sleep(2 * time.Millisecond)

	got, err := b.Retriever.GetBrainContext(ctx, "portfolio", 10)
	if err != nil {
		t.Fatalf("GetBrainContext: %v", err)
	}
	if got.Empty() || len(got.Neighbors) != 1 {
		t.Fatalf("unexpected context: %+v", got)
	}

	after, _ := db.Q().GetLink(ctx, linkID)
	if after.TraversalCount != before.TraversalCount+1 {
		t.Errorf("traversal_count = %d, walked links must be counted", after.TraversalCount)
	}
	if after.LastTraversed <= before.LastTraversed {
		t.Errorf("last_traversed %d -> %d, walked links must refresh recency",
			before.LastTraversed, after.LastTraversed)
	}
}

func TestGetBrainContextBelowThreshold(t *testing.T) {
	_, b := testBrain(t)
	ctx := context.Background()

	createTestNode(t, b, "Portfolio Optimization", store.TypeKnowledge, 25)

	got, err := b.Retriever.GetBrainContext(ctx, "xylem phloem", 10)
	if err != nil {
		t.Fatalf("GetBrainContext: %v", err)
	}
	if !got.Empty() {
		t.Fatalf("expected empty context for an unrelated query, got %q", got.Primary.Label)
	}
	if len(got.Neighbors) != 0 || got.Score != 0 {
		t.Errorf("empty context must carry no neighbors or score: %+v", got)
	}
}

func TestGetBrainContextEmptyGraph(t *testing.T) {
	_, b := testBrain(t)

	got, err := b.Retriever.GetBrainContext(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("GetBrainContext: %v", err)
	}
	if !got.Empty() {
		t.Error("empty graph must yield an empty context")
	}
}

func TestGetBrainContextPrefersHeavierOnTie(t *testing.T) {
	_, b := testBrain(t)
	ctx := context.Background()

	createTestNode(t, b, "deploy pipeline", store.TypeInformation, 10)
	heavy := createTestNode(t, b, "deploy pipeline", store.TypeInformation, 40)

	got, err := b.Retriever.GetBrainContext(ctx, "deploy pipeline", 5)
	if err != nil {
		t.Fatalf("GetBrainContext: %v", err)
	}
	if got.Empty() || got.Primary.ID != heavy {
		t.Error("identical similarity must break ties toward higher mass")
	}
}

func TestGetBrainContextSkipsTombstones(t *testing.T) {
	_, b := testBrain(t)
	ctx := context.Background()

	winner := createTestNode(t, b, "release process", store.TypeKnowledge, 30)
	loser := createTestNode(t, b, "release process", store.TypeKnowledge, 20)
	applyOne(t, b, Action{
		Name:   ActionMergeNodes,
		Params: ActionParams{WinnerID: winner, LoserID: loser},
	}, true)

	got, err := b.Retriever.GetBrainContext(ctx, "release process", 5)
	if err != nil {
		t.Fatalf("GetBrainContext: %v", err)
	}
	if got.Empty() || got.Primary.ID != winner {
		t.Error("merged-away nodes must never surface as the primary")
	}
}

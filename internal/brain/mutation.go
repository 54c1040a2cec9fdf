package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/modinired/cesar-brain/internal/store"
)

// The neuroplasticity action vocabulary. This is the only way graph
// state changes.
const (
	ActionCreateNode = "CREATE_NODE"
	ActionCreateLink = "CREATE_LINK"
	ActionUpdateMass = "UPDATE_MASS"
	ActionDecayNode  = "DECAY_NODE"
	ActionMergeNodes = "MERGE_NODES"
)

// explicitDecayFactor is the one-shot multiplier applied by
// DECAY_NODE, distinct from the scheduler's exponential decay.
const explicitDecayFactor = 0.8

// defaultRetryAttempts bounds the optimistic-concurrency retry loop.
const defaultRetryAttempts = 5

// Action is one requested mutation.
type Action struct {
	Name   string       `json:"action"`
	Params ActionParams `json:"params"`
}

// ActionParams carries the union of parameters across the action
// vocabulary. Each action validates the subset it needs.
type ActionParams struct {
	// CREATE_NODE
	Label       string            `json:"label,omitempty"`
	Type        string            `json:"type,omitempty"`
	InitialMass float64           `json:"initial_mass,omitempty"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Category    string            `json:"category,omitempty"`
	ZIndex      *int              `json:"z_index,omitempty"`

	// CREATE_LINK
	SourceID string  `json:"source_id,omitempty"`
	Target   string  `json:"target,omitempty"` // node id or label
	Weight   float64 `json:"weight,omitempty"`
	LinkType string  `json:"link_type,omitempty"`

	// UPDATE_MASS / DECAY_NODE
	TargetID string  `json:"target_id,omitempty"`
	Delta    float64 `json:"delta,omitempty"`
	Reason   string  `json:"reason,omitempty"`

	// MERGE_NODES
	WinnerID string `json:"winner_id,omitempty"`
	LoserID  string `json:"loser_id,omitempty"`
}

// Result is the typed success payload of an applied action.
type Result struct {
	NodeID       string  `json:"node_id,omitempty"`
	LinkID       string  `json:"link_id,omitempty"`
	TargetID     string  `json:"target_id,omitempty"`
	Mass         float64 `json:"mass,omitempty"`
	Strength     float64 `json:"strength,omitempty"`
	LinksRewired int     `json:"links_rewired,omitempty"`
}

// Outcome is the per-action status of a batch mutation. Batches are
// action-level atomic: each action commits or fails independently.
type Outcome struct {
	Action  string  `json:"action"`
	Success bool    `json:"success"`
	Result  *Result `json:"result,omitempty"`
	Error   string  `json:"error,omitempty"`
	Code    string  `json:"code,omitempty"`
}

// Caller identifies who requested a batch, for audit logging.
type Caller struct {
	TriggeredBy string `json:"triggered_by,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// Engine applies the mutation action vocabulary. It is the only
// component permitted to write graph state.
type Engine struct {
	db       *store.DB
	scorer   store.SimilarityScorer
	attempts int
	log      *slog.Logger
}

// NewEngine creates a MutationEngine over the store. attempts bounds
// the conflict retry loop; 0 means the default of 5.
func NewEngine(db *store.DB, scorer store.SimilarityScorer, attempts int, log *slog.Logger) *Engine {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		db:       db,
		scorer:   scorer,
		attempts: attempts,
		log:      log.With("component", "mutation_engine"),
	}
}

// Apply runs a batch of actions in order. Each action executes in its
// own transaction and always produces exactly one mutation log entry,
// success or failure. A failed action does not stop later ones.
func (e *Engine) Apply(ctx context.Context, actions []Action, by Caller) []Outcome {
	outcomes := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		outcomes = append(outcomes, e.applyLogged(ctx, a, by))
	}
	return outcomes
}

func (e *Engine) applyLogged(ctx context.Context, a Action, by Caller) Outcome {
	result, err := e.applyWithRetry(ctx, a)

	entry := &store.MutationLogEntry{
		ID:          uuid.NewString(),
		Action:      a.Name,
		TargetID:    logTargetID(a, result),
		SourceID:    a.Params.SourceID,
		Params:      marshalParams(a.Params),
		Reason:      a.Params.Reason,
		TriggeredBy: by.TriggeredBy,
		SessionID:   by.SessionID,
		Success:     err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	// The log write is deliberately outside the action's transaction:
	// failed actions must still leave exactly one entry.
	if logErr := e.db.Q().AppendMutation(ctx, entry); logErr != nil {
		e.log.Error("mutation log append failed",
			"action", a.Name, "error", logErr)
	}

	if err != nil {
		return Outcome{Action: a.Name, Success: false,
			Error: err.Error(), Code: errorCode(err)}
	}
	return Outcome{Action: a.Name, Success: true, Result: result}
}

// applyWithRetry serializes contended writes on the same node via a
// bounded retry loop with jittered backoff. Disjoint nodes never
// contend and proceed in parallel.
func (e *Engine) applyWithRetry(ctx context.Context, a Action) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 5 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, classify(ctx.Err())
			}
		}

		result, err := e.applyOnce(ctx, a)
		if err == nil {
			return result, nil
		}
		err = classify(err)
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
		e.log.Debug("retrying contended mutation",
			"action", a.Name, "attempt", attempt+1)
	}
	return nil, lastErr
}

func (e *Engine) applyOnce(ctx context.Context, a Action) (*Result, error) {
	switch a.Name {
	case ActionCreateNode:
		return e.createNode(ctx, a.Params)
	case ActionCreateLink:
		return e.createLink(ctx, a.Params)
	case ActionUpdateMass:
		return e.updateMass(ctx, a.Params)
	case ActionDecayNode:
		return e.decayNode(ctx, a.Params)
	case ActionMergeNodes:
		return e.mergeNodes(ctx, a.Params)
	default:
		return nil, fmt.Errorf("unknown action %q: %w", a.Name, ErrValidation)
	}
}

func (e *Engine) createNode(ctx context.Context, p ActionParams) (*Result, error) {
	if p.Label == "" {
		return nil, fmt.Errorf("label is required: %w", ErrValidation)
	}
	if !store.ValidNodeType(p.Type) {
		return nil, fmt.Errorf("unknown node type %q: %w", p.Type, ErrValidation)
	}
	if p.Category != "" && p.Category != store.CategoryStatic && p.Category != store.CategoryEphemeral {
		return nil, fmt.Errorf("unknown category %q: %w", p.Category, ErrValidation)
	}

	n := &store.Node{
		ID:          uuid.NewString(),
		Label:       p.Label,
		Type:        p.Type,
		Category:    p.Category,
		ZIndex:      store.CanonicalZIndex(p.Type),
		Mass:        store.ClampMass(p.InitialMass),
		Description: p.Description,
		Metadata:    p.Metadata,
		Signature:   e.scorer.Signature(p.Label, p.Description),
	}
	// An explicit z_index wins over the type's canonical layer, zero
	// included.
	if p.ZIndex != nil {
		n.ZIndex = *p.ZIndex
	}

	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		return q.CreateNode(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return &Result{NodeID: n.ID, Mass: n.Mass}, nil
}

func (e *Engine) createLink(ctx context.Context, p ActionParams) (*Result, error) {
	if p.SourceID == "" {
		return nil, fmt.Errorf("source_id is required: %w", ErrValidation)
	}
	if p.Target == "" {
		return nil, fmt.Errorf("target is required: %w", ErrValidation)
	}
	if p.LinkType != "" && !store.ValidLinkType(p.LinkType) {
		return nil, fmt.Errorf("unknown link type %q: %w", p.LinkType, ErrValidation)
	}

	var result Result
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		source, err := q.GetNodeRaw(ctx, p.SourceID)
		if err != nil {
			return err
		}
		if source == nil {
			return fmt.Errorf("source node %s: %w", p.SourceID, ErrNotFound)
		}
		if source.RedirectedTo != "" {
			return fmt.Errorf("source node %s merged away: %w", p.SourceID, ErrValidation)
		}

		target, err := e.resolveLinkTarget(ctx, q, p.Target)
		if err != nil {
			return err
		}

		if source.ID == target.ID {
			return fmt.Errorf("self-loop %s -> %s: %w", source.ID, target.ID, ErrValidation)
		}

		strength := store.ClampStrength(p.Weight)

		// Parallel links collapse to the stronger one.
		existing, err := q.GetLinkBetween(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if strength > existing.Strength {
				if err := q.UpdateLinkStrength(ctx, existing.ID, strength, p.Weight); err != nil {
					return err
				}
				existing.Strength = strength
			}
			result = Result{LinkID: existing.ID, TargetID: target.ID, Strength: existing.Strength}
			return nil
		}

		l := &store.Link{
			ID:       uuid.NewString(),
			SourceID: source.ID,
			TargetID: target.ID,
			Strength: strength,
			LinkType: p.LinkType,
			Weight:   p.Weight,
		}
		if err := q.CreateLink(ctx, l); err != nil {
			return err
		}
		result = Result{LinkID: l.ID, TargetID: target.ID, Strength: l.Strength}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// resolveLinkTarget resolves by id first, then by label, creating a
// label-only stub node when no match exists.
func (e *Engine) resolveLinkTarget(ctx context.Context, q *store.Queries, target string) (*store.Node, error) {
	byID, err := q.GetNodeRaw(ctx, target)
	if err != nil {
		return nil, err
	}
	if byID != nil {
		if byID.RedirectedTo != "" {
			return nil, fmt.Errorf("target node %s merged away: %w", target, ErrValidation)
		}
		return byID, nil
	}

	byLabel, err := q.FindByLabel(ctx, target)
	if err != nil {
		return nil, err
	}
	if byLabel != nil {
		return byLabel, nil
	}

	stub := &store.Node{
		ID:        uuid.NewString(),
		Label:     target,
		Type:      store.TypeInformation,
		ZIndex:    store.CanonicalZIndex(store.TypeInformation),
		Mass:      store.MassFloor,
		Signature: e.scorer.Signature(target, ""),
	}
	if err := q.CreateNode(ctx, stub); err != nil {
		return nil, err
	}
	return stub, nil
}

func (e *Engine) updateMass(ctx context.Context, p ActionParams) (*Result, error) {
	if p.TargetID == "" {
		return nil, fmt.Errorf("target_id is required: %w", ErrValidation)
	}

	var result Result
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		if err := e.requireActive(ctx, q, p.TargetID); err != nil {
			return err
		}
		n, err := q.ApplyMassDelta(ctx, p.TargetID, p.Delta)
		if err != nil {
			return err
		}
		// Mass updates count as use.
		if err := q.TouchNode(ctx, p.TargetID); err != nil {
			return err
		}
		result = Result{NodeID: n.ID, Mass: n.Mass}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Engine) decayNode(ctx context.Context, p ActionParams) (*Result, error) {
	if p.TargetID == "" {
		return nil, fmt.Errorf("target_id is required: %w", ErrValidation)
	}

	var result Result
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		if err := e.requireActive(ctx, q, p.TargetID); err != nil {
			return err
		}
		n, err := q.ApplyDecayFactor(ctx, p.TargetID, explicitDecayFactor)
		if err != nil {
			return err
		}
		result = Result{NodeID: n.ID, Mass: n.Mass}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Engine) mergeNodes(ctx context.Context, p ActionParams) (*Result, error) {
	if p.WinnerID == "" || p.LoserID == "" {
		return nil, fmt.Errorf("winner_id and loser_id are required: %w", ErrValidation)
	}
	if p.WinnerID == p.LoserID {
		return nil, fmt.Errorf("cannot merge a node into itself: %w", ErrValidation)
	}

	var result Result
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		winner, err := q.GetNodeRaw(ctx, p.WinnerID)
		if err != nil {
			return err
		}
		if winner == nil {
			return fmt.Errorf("winner %s: %w", p.WinnerID, ErrNotFound)
		}
		if winner.RedirectedTo != "" {
			return fmt.Errorf("winner %s merged away: %w", p.WinnerID, ErrValidation)
		}
		loser, err := q.GetNodeRaw(ctx, p.LoserID)
		if err != nil {
			return err
		}
		if loser == nil {
			return fmt.Errorf("loser %s: %w", p.LoserID, ErrNotFound)
		}
		if loser.RedirectedTo != "" {
			return fmt.Errorf("loser %s merged away: %w", p.LoserID, ErrValidation)
		}

		rewired, err := e.rewireLinks(ctx, q, winner.ID, loser.ID)
		if err != nil {
			return err
		}

		// Mass conservation: loser's mass folds into the winner, clamped.
		merged, err := q.ApplyMassDelta(ctx, winner.ID, loser.Mass)
		if err != nil {
			return err
		}

		// Tombstone, never delete. redirected_to is set once and
		// never cleared.
		if err := q.SetRedirect(ctx, loser.ID, winner.ID); err != nil {
			return err
		}

		result = Result{NodeID: winner.ID, TargetID: loser.ID,
			Mass: merged.Mass, LinksRewired: rewired}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// rewireLinks repoints every link touching the loser onto the winner.
// Links between the pair are dropped (they would become self-loops);
// resulting parallel links keep the higher strength.
func (e *Engine) rewireLinks(ctx context.Context, q *store.Queries, winnerID, loserID string) (int, error) {
	links, err := q.ListLinksTouching(ctx, loserID)
	if err != nil {
		return 0, err
	}

	rewired := 0
	for _, l := range links {
		newSource, newTarget := l.SourceID, l.TargetID
		if newSource == loserID {
			newSource = winnerID
		}
		if newTarget == loserID {
			newTarget = winnerID
		}

		if newSource == newTarget {
			if err := q.DeleteLink(ctx, l.ID); err != nil {
				return rewired, err
			}
			continue
		}

		existing, err := q.GetLinkBetween(ctx, newSource, newTarget)
		if err != nil {
			return rewired, err
		}
		if existing != nil && existing.ID != l.ID {
			if l.Strength > existing.Strength {
				if err := q.UpdateLinkStrength(ctx, existing.ID, l.Strength, l.Weight); err != nil {
					return rewired, err
				}
			}
			if err := q.DeleteLink(ctx, l.ID); err != nil {
				return rewired, err
			}
			rewired++
			continue
		}

		if err := q.RepointLink(ctx, l.ID, newSource, newTarget); err != nil {
			return rewired, err
		}
		rewired++
	}
	return rewired, nil
}

// ScheduledDecay applies a scheduler-computed decayed mass and records
// the per-day idempotence marker, inside one transaction, with the
// mandatory audit entry. The scheduler never writes the store directly.
func (e *Engine) ScheduledDecay(ctx context.Context, nodeID string, newMass float64, day string) error {
	err := e.db.WithTx(ctx, func(q *store.Queries) error {
		return q.SetDecayedMass(ctx, nodeID, newMass, day)
	})

	entry := &store.MutationLogEntry{
		ID:          uuid.NewString(),
		Action:      ActionDecayNode,
		TargetID:    nodeID,
		Params:      fmt.Sprintf(`{"new_mass":%g,"day":%q}`, newMass, day),
		Reason:      "scheduled decay",
		TriggeredBy: "decay_scheduler",
		Success:     err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if logErr := e.db.Q().AppendMutation(ctx, entry); logErr != nil {
		e.log.Error("mutation log append failed",
			"action", ActionDecayNode, "error", logErr)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// requireActive fails when the id is unknown or already merged away.
func (e *Engine) requireActive(ctx context.Context, q *store.Queries, id string) error {
	n, err := q.GetNodeRaw(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if n.RedirectedTo != "" {
		return fmt.Errorf("node %s merged away: %w", id, ErrValidation)
	}
	return nil
}

func marshalParams(p ActionParams) string {
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// logTargetID picks the most useful target for the audit record:
// the explicit target when the action names one, otherwise the id the
// action produced.
func logTargetID(a Action, result *Result) string {
	switch {
	case a.Params.TargetID != "":
		return a.Params.TargetID
	case a.Params.WinnerID != "":
		return a.Params.WinnerID
	case result != nil && result.NodeID != "":
		return result.NodeID
	case result != nil && result.LinkID != "":
		return result.LinkID
	default:
		return ""
	}
}

package brain

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/modinired/cesar-brain/internal/store"
)

// Decay defaults: nodes untouched for the inactivity window lose mass
// exponentially with the configured half-life, floored at MassFloor.
const (
	DefaultInactivityWindow = 7 * 24 * time.Hour
	DefaultHalfLife         = 30 * 24 * time.Hour
)

// DecayReport is the outcome of one scheduler pass.
type DecayReport struct {
	NodesScanned int `json:"nodes_scanned"`
	NodesDecayed int `json:"nodes_decayed"`
	Errors       int `json:"errors"`
}

// Scheduler applies periodic importance decay to inactive nodes. It is
// externally triggered (cron or the serve-mode timer) and routes every
// write through the MutationEngine.
type Scheduler struct {
	db       *store.DB
	engine   *Engine
	window   time.Duration
	halfLife time.Duration
	log      *slog.Logger
	stopCh   chan struct{}
}

// NewScheduler creates a DecayScheduler. Zero durations mean defaults.
func NewScheduler(db *store.DB, engine *Engine, window, halfLife time.Duration, log *slog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		db:       db,
		engine:   engine,
		window:   window,
		halfLife: halfLife,
		log:      log.With("component", "decay_scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Run performs one decay pass. Re-running within the same UTC calendar
// day is a no-op per node: each node carries a last-decay date marker.
// Decay never archives or deletes a node.
func (s *Scheduler) Run(ctx context.Context) (DecayReport, error) {
	var report DecayReport

	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	cutoff := now.Add(-s.window).UnixMilli()

	nodes, err := s.db.Q().ListInactiveSince(ctx, cutoff)
	if err != nil {
		return report, classify(err)
	}
	report.NodesScanned = len(nodes)

	halfLifeDays := s.halfLife.Hours() / 24
	for _, n := range nodes {
		if n.LastDecayAt == day {
			continue
		}

		daysInactive := float64(now.UnixMilli()-n.LastAccessed) / float64(24*time.Hour/time.Millisecond)
		factor := math.Pow(0.5, daysInactive/halfLifeDays)
		newMass := store.ClampMass(n.Mass * factor)

		if err := s.engine.ScheduledDecay(ctx, n.ID, newMass, day); err != nil {
			s.log.Warn("decay failed", "node", n.ID, "error", err)
			report.Errors++
			continue
		}
		if newMass < n.Mass {
			report.NodesDecayed++
		}
	}

	s.log.Info("decay pass complete",
		"scanned", report.NodesScanned,
		"decayed", report.NodesDecayed,
		"errors", report.Errors)
	return report, nil
}

// StartTimer runs a decay pass now and then once per day until Stop.
func (s *Scheduler) StartTimer(ctx context.Context) {
	if _, err := s.Run(ctx); err != nil {
		s.log.Error("decay run failed", "error", err)
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Run(ctx); err != nil {
					s.log.Error("decay run failed", "error", err)
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the timer goroutine.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

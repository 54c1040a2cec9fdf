package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/modinired/cesar-brain/internal/brain"
	"github.com/modinired/cesar-brain/internal/config"
	"github.com/modinired/cesar-brain/internal/server"
	"github.com/modinired/cesar-brain/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

// openBrain loads config, opens the store, and wires the engine. Shared
// by every command that needs a live brain.
func openBrain() (*store.DB, *brain.Brain, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, cfg, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, cfg, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, cfg, fmt.Errorf("open database: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	b := brain.New(db, brain.Options{
		MinSimilarity: cfg.Brain.MinSimilarity,
		RetryAttempts: cfg.Brain.RetryAttempts,
		DecayWindow:   cfg.DecayWindow(),
		HalfLife:      cfg.HalfLife(),
		ExportMinMass: cfg.Brain.ExportMinMass,
		Logger:        log,
	})
	return db, b, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	db, b, cfg, err := openBrain()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	b.Scheduler.StartTimer(ctx)
	defer b.Scheduler.Stop()

	srv := server.New(db, b, cfg.Brain.MaxNeighbors, VersionString())
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "brain serving on %s\n", cfg.ListenAddr())
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

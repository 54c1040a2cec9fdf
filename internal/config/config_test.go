package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 38380 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Brain.MinSimilarity != 0.25 {
		t.Errorf("min_similarity = %g", cfg.Brain.MinSimilarity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
	if cfg.DecayWindow() != 7*24*time.Hour || cfg.HalfLife() != 30*24*time.Hour {
		t.Error("default decay durations wrong")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Error("missing file must yield defaults")
	}
}

func TestLoadOverridesAndExpandsEnv(t *testing.T) {
	t.Setenv("BRAIN_DB_PATH", "/tmp/test-brain.db")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9999
database:
  path: ${BRAIN_DB_PATH}
brain:
  min_similarity: 0.4
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want override", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test-brain.db" {
		t.Errorf("path = %q, want env-expanded", cfg.Database.Path)
	}
	if cfg.Brain.MinSimilarity != 0.4 {
		t.Errorf("min_similarity = %g", cfg.Brain.MinSimilarity)
	}
	// Untouched keys keep their defaults.
	if cfg.Brain.HalfLifeDays != 30 {
		t.Errorf("half_life_days = %d, want default 30", cfg.Brain.HalfLifeDays)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: -1\n"},
		{"similarity above one", "brain:\n  min_similarity: 1.5\n"},
		{"zero half life", "brain:\n  half_life_days: 0\n"},
		{"not yaml", "{{{{"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(c.body), 0644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

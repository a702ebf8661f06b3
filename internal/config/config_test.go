package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxFacts != 5 {
		t.Fatalf("MaxFacts: want 5, got %d", cfg.MaxFacts)
	}
	if cfg.VideoPollSeconds != 10 {
		t.Fatalf("VideoPollSeconds: want 10, got %d", cfg.VideoPollSeconds)
	}
	for _, level := range []string{"Elementary", "High School", "College", "Expert"} {
		if cfg.LevelInstruction(level) == "" {
			t.Fatalf("missing instruction for level %q", level)
		}
	}
	for _, style := range []string{"Minimalist", "Realistic", "Cartoon", "Vintage", "Futuristic", "3D Render", "Sketch", "Default"} {
		if cfg.StyleInstruction(style) == "" {
			t.Fatalf("missing instruction for style %q", style)
		}
	}
}

func TestUnknownValuesFallBack(t *testing.T) {
	cfg := Default()
	if got := cfg.LevelInstruction("PhD"); got != cfg.LevelInstruction("High School") {
		t.Fatalf("unknown level must fall back to High School, got %q", got)
	}
	if got := cfg.StyleInstruction("Cubist"); got != cfg.StyleInstruction("Default") {
		t.Fatalf("unknown style must fall back to Default, got %q", got)
	}
	if got := cfg.LevelInstruction(""); got == "" {
		t.Fatalf("empty level must still resolve")
	}
}

func TestLoadMergesYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := strings.Join([]string{
		"level_instructions:",
		"  College: \"Custom college phrasing.\"",
		"style_instructions:",
		"  Minimalist: \"Custom minimalist phrasing.\"",
		"max_facts: 7",
	}, "\n")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INFOGRAPH_CONFIG", path)

	cfg, err := Load(mustTestLogger(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LevelInstruction("College") != "Custom college phrasing." {
		t.Fatalf("level override not applied: %q", cfg.LevelInstruction("College"))
	}
	if cfg.StyleInstruction("Minimalist") != "Custom minimalist phrasing." {
		t.Fatalf("style override not applied")
	}
	if cfg.MaxFacts != 7 {
		t.Fatalf("MaxFacts override: want 7, got %d", cfg.MaxFacts)
	}
	// Untouched entries keep their defaults.
	if cfg.LevelInstruction("Expert") == "" {
		t.Fatalf("defaults lost during merge")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n  - not valid"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INFOGRAPH_CONFIG", path)

	if _, err := Load(mustTestLogger(t)); err == nil {
		t.Fatalf("malformed config must fail loudly")
	}
}

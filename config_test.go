package docfides

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chat.Provider != "openai" {
		t.Errorf("Chat.Provider = %q", cfg.Chat.Provider)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	want := []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}
	if len(cfg.Backoff) != len(want) {
		t.Fatalf("Backoff = %v", cfg.Backoff)
	}
	for i := range want {
		if cfg.Backoff[i] != want[i] {
			t.Errorf("Backoff[%d] = %v, want %v", i, cfg.Backoff[i], want[i])
		}
	}
	if cfg.Extraction.MinYieldChars != 50 {
		t.Errorf("MinYieldChars = %d, want 50", cfg.Extraction.MinYieldChars)
	}
	if cfg.OCRLanguages != "ron+eng" {
		t.Errorf("OCRLanguages = %q", cfg.OCRLanguages)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
db_name: custom
chat:
  provider: groq
  model: llama-3.3-70b-versatile
extraction:
  min_yield_chars: 80
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBName != "custom" {
		t.Errorf("DBName = %q", cfg.DBName)
	}
	if cfg.Chat.Provider != "groq" {
		t.Errorf("Chat.Provider = %q", cfg.Chat.Provider)
	}
	if cfg.Extraction.MinYieldChars != 80 {
		t.Errorf("MinYieldChars = %d, want the override", cfg.Extraction.MinYieldChars)
	}
	// Untouched values keep their defaults.
	if cfg.Extraction.TargetDPI != 300 {
		t.Errorf("TargetDPI = %d, want default 300", cfg.Extraction.TargetDPI)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", cfg.MaxAttempts)
	}
}

func TestResolveDBPath(t *testing.T) {
	explicit := Config{DBPath: "/tmp/explicit.db"}
	if got := explicit.resolveDBPath(); got != "/tmp/explicit.db" {
		t.Errorf("explicit path = %q", got)
	}

	local := Config{DBName: "proj", StorageDir: "local"}
	if got := local.resolveDBPath(); got != "proj.db" {
		t.Errorf("local path = %q", got)
	}

	home := Config{DBName: "proj", StorageDir: "home"}
	got := home.resolveDBPath()
	if filepath.Base(got) != "proj.db" {
		t.Errorf("home path = %q", got)
	}
}

package docfides

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docfides/docfides/extract"
)

// Config holds all configuration for the DocFides engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.docfides/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "docfides".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. Options: "home" (default) uses ~/.docfides/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Chat drives the pipeline agents; Vision is the page
	// transcription fallback and may be left unset, in which case pages that
	// would need it fall through to the failed-method path.
	Chat   LLMConfig `json:"chat" yaml:"chat"`
	Vision LLMConfig `json:"vision" yaml:"vision"`

	// Extraction is the escalation policy: yield thresholds, DPI targets,
	// confidence ceilings and worker counts. The defaults are empirical,
	// not calibrated truths; override per deployment when measurements
	// suggest better values.
	Extraction extract.Policy `json:"extraction" yaml:"extraction"`

	// OCRLanguages is the recognizer language hint, e.g. "ron+eng".
	// Empty means the recognizer default.
	OCRLanguages string `json:"ocr_languages" yaml:"ocr_languages"`

	// Agent retry policy.
	MaxAttempts  int             `json:"max_attempts" yaml:"max_attempts"`
	Backoff      []time.Duration `json:"backoff" yaml:"backoff"`
	AgentTimeout time.Duration   `json:"agent_timeout" yaml:"agent_timeout"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, openrouter, groq, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults.
// Database is stored in ~/.docfides/docfides.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "docfides",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com",
		},
		Vision: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
			BaseURL:  "https://api.openai.com",
		},
		Extraction:   extract.DefaultPolicy(),
		OCRLanguages: "ron+eng",
		MaxAttempts:  3,
		Backoff:      []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second},
		AgentTimeout: 2 * time.Minute,
	}
}

// LoadConfig reads a YAML config file and overlays it on the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "docfides"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".docfides")
		return filepath.Join(dir, name+".db")
	}
}

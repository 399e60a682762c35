package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("VECTOR_STORE", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkMaxChars != 800 || cfg.ChunkOverlap != 200 {
		t.Fatalf("chunk window = %d/%d", cfg.ChunkMaxChars, cfg.ChunkOverlap)
	}
	if cfg.LLM.Timeout != 60*time.Second || cfg.Embedding.Timeout != 30*time.Second {
		t.Fatalf("timeouts = %s/%s", cfg.LLM.Timeout, cfg.Embedding.Timeout)
	}
	if cfg.ModelMaxAttempts != 1 {
		t.Fatalf("ModelMaxAttempts = %d, want 1", cfg.ModelMaxAttempts)
	}
}

func TestLoadRequiresDatabaseURLForPgvector(t *testing.T) {
	t.Setenv("VECTOR_STORE", "pgvector")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doqmate.yaml")
	yml := `
vector_store: memory
chunk_max_chars: 500
chunk_overlap: 50
llm:
  model: from-yaml
  timeout: 5s
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOQMATE_CONFIG_FILE", path)
	t.Setenv("CHUNK_OVERLAP", "100")
	t.Setenv("LLM_TIMEOUT", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkMaxChars != 500 {
		t.Errorf("ChunkMaxChars = %d, want 500 from yaml", cfg.ChunkMaxChars)
	}
	if cfg.ChunkOverlap != 100 {
		t.Errorf("ChunkOverlap = %d, want 100 from env", cfg.ChunkOverlap)
	}
	if cfg.LLM.Model != "from-yaml" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 12*time.Second {
		t.Errorf("LLM.Timeout = %s, want 12s", cfg.LLM.Timeout)
	}
	if cfg.LLM.BaseURL != "http://localhost:11400" {
		t.Errorf("LLM.BaseURL lost its default: %q", cfg.LLM.BaseURL)
	}
}

func TestValidateChunkWindow(t *testing.T) {
	cfg := Defaults()
	cfg.VectorStore = "memory"
	cfg.ChunkOverlap = cfg.ChunkMaxChars
	if err := cfg.Validate(); err == nil {
		t.Fatal("overlap == max must be rejected")
	}
	cfg.ChunkOverlap = 0
	cfg.MinConfidence = "certain"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown min confidence must be rejected")
	}
}

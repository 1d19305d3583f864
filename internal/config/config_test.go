package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != "openai" {
		t.Errorf("backend: %q", cfg.Backend)
	}
	if cfg.Model == "" {
		t.Error("default model should be filled from the backend")
	}
	if cfg.MaxSamples != 10 || cfg.LocSamples != 4 || cfg.TopN != 3 {
		t.Errorf("sampling defaults: %d/%d/%d", cfg.MaxSamples, cfg.LocSamples, cfg.TopN)
	}
	if !cfg.SkipExisting || cfg.Overwrite {
		t.Error("resume defaults: skip existing on, overwrite off")
	}
	if cfg.ArtifactDir == "" || cfg.DBPath == "" {
		t.Error("storage paths should default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mend.yaml")
	content := strings.Join([]string{
		"target_ids: [issue-1, issue-2]",
		"backend: anthropic",
		"model: claude-test",
		"bench_root: /data/bench",
		"test_command: /usr/local/bin/harness",
		"max_samples: 4",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Backend != "anthropic" || cfg.Model != "claude-test" {
		t.Errorf("backend/model: %q/%q", cfg.Backend, cfg.Model)
	}
	if len(cfg.TargetIDs) != 2 || cfg.MaxSamples != 4 {
		t.Errorf("targets/samples: %v/%d", cfg.TargetIDs, cfg.MaxSamples)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MEND_TARGET_IDS", "issue-1,issue-2")
	t.Setenv("MEND_BENCH_ROOT", "/data/bench")
	t.Setenv("MEND_TEST_COMMAND", "/usr/local/bin/harness")
	t.Setenv("MEND_BACKEND", "deepseek")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env-only configuration should validate: %v", err)
	}
	want := []string{"issue-1", "issue-2"}
	if len(cfg.TargetIDs) != 2 || cfg.TargetIDs[0] != want[0] || cfg.TargetIDs[1] != want[1] {
		t.Errorf("target_ids: %v, want %v", cfg.TargetIDs, want)
	}
	if cfg.BenchRoot != "/data/bench" || cfg.TestCommand != "/usr/local/bin/harness" {
		t.Errorf("paths: %q/%q", cfg.BenchRoot, cfg.TestCommand)
	}
	if cfg.Backend != "deepseek" {
		t.Errorf("backend: %q", cfg.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file should error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			TargetIDs:   []string{"issue-1"},
			Backend:     "openai",
			MaxSamples:  1,
			BenchRoot:   "/data/bench",
			TestCommand: "harness",
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no targets", func(c *Config) { c.TargetIDs = nil }, "target_ids"},
		{"unknown backend", func(c *Config) { c.Backend = "llama-local" }, "unknown backend"},
		{"zero samples", func(c *Config) { c.MaxSamples = 0 }, "max_samples"},
		{"no bench root", func(c *Config) { c.BenchRoot = "" }, "bench_root"},
		{"no harness", func(c *Config) { c.TestCommand = "" }, "test_command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate: got %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	cfg := &Config{
		Backend:  "deepseek",
		APIKeys:  map[string]string{"deepseek": "sk-file"},
		BaseURLs: map[string]string{"deepseek": "https://example.test/v1"},
	}
	creds := cfg.Credentials(func(string) string { return "sk-env" })
	if creds.APIKey != "sk-file" {
		t.Errorf("config key should win: %q", creds.APIKey)
	}
	if creds.BaseURL != "https://example.test/v1" {
		t.Errorf("base url: %q", creds.BaseURL)
	}

	cfg.APIKeys = nil
	creds = cfg.Credentials(func(name string) string {
		if name == "DEEPSEEK_API_KEY" {
			return "sk-env"
		}
		return ""
	})
	if creds.APIKey != "sk-env" {
		t.Errorf("env fallback: %q", creds.APIKey)
	}
}

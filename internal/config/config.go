// Package config resolves the run configuration from a YAML file plus
// MEND_-prefixed environment overrides. Missing required configuration is a
// startup-time fatal error, never a per-unit failure.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"mend/internal/backend"
)

// Backends recognized by the backend flag/enum.
var Backends = []string{"openai", "anthropic", "deepseek", "vertexai"}

// Config is the full run configuration.
type Config struct {
	// TargetIDs are the issues to process. Required, non-empty.
	TargetIDs []string `mapstructure:"target_ids"`
	// Scenario labels the batch in run records.
	Scenario string `mapstructure:"scenario"`

	Backend string `mapstructure:"backend"`
	Model   string `mapstructure:"model"`
	// APIKeys maps backend name to credential; unset keys fall back to the
	// provider's conventional environment variable.
	APIKeys  map[string]string `mapstructure:"api_keys"`
	BaseURLs map[string]string `mapstructure:"base_urls"`

	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	MaxSamples  int     `mapstructure:"max_samples"`
	LocSamples  int     `mapstructure:"loc_samples"`
	TopN        int     `mapstructure:"top_n"`

	// LLMWorkers bounds concurrent backend calls; SandboxWorkers bounds
	// concurrent test executions.
	LLMWorkers     int `mapstructure:"llm_workers"`
	SandboxWorkers int `mapstructure:"sandbox_workers"`

	SkipExisting bool   `mapstructure:"skip_existing"`
	Overwrite    bool   `mapstructure:"overwrite"`
	ArtifactDir  string `mapstructure:"artifact_dir"`
	DBPath       string `mapstructure:"db_path"`

	// BenchRoot is the benchmark checkout, one subdirectory per issue.
	BenchRoot string `mapstructure:"bench_root"`
	// PromptDir optionally overrides the built-in prompt templates; one
	// {stage}.md file per stage.
	PromptDir string `mapstructure:"prompt_dir"`
	// TestCommand is the external harness executable that runs selected
	// tests inside a snapshot.
	TestCommand string `mapstructure:"test_command"`
}

// envKeyVars maps each backend to the environment variable its credential
// is conventionally found in.
var envKeyVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"vertexai":  "GEMINI_API_KEY",
}

// Load reads the configuration file (optional when path is empty) and
// applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only surfaces a key during Unmarshal once viper knows it,
	// so keys without a natural default still need one registered for their
	// MEND_ variable to land.
	v.SetDefault("target_ids", []string{})
	v.SetDefault("model", "")
	v.SetDefault("bench_root", "")
	v.SetDefault("prompt_dir", "")
	v.SetDefault("test_command", "")
	v.SetDefault("overwrite", false)

	v.SetDefault("backend", "openai")
	v.SetDefault("scenario", "default")
	v.SetDefault("temperature", 0.8)
	v.SetDefault("max_tokens", 1024)
	v.SetDefault("max_samples", 10)
	v.SetDefault("loc_samples", 4)
	v.SetDefault("top_n", 3)
	v.SetDefault("llm_workers", 4)
	v.SetDefault("sandbox_workers", 2)
	v.SetDefault("skip_existing", true)
	v.SetDefault("artifact_dir", ".mend/artifacts")
	v.SetDefault("db_path", ".mend/mend.db")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = backend.DefaultModel(cfg.Backend)
	}
	return cfg, nil
}

// Validate enforces startup-time requirements.
func (c *Config) Validate() error {
	if len(c.TargetIDs) == 0 {
		return fmt.Errorf("target_ids is required and must be non-empty")
	}
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown backend %q (want one of %s)", c.Backend, strings.Join(Backends, ", "))
	}
	if c.MaxSamples < 1 {
		return fmt.Errorf("max_samples must be at least 1")
	}
	if c.BenchRoot == "" {
		return fmt.Errorf("bench_root is required")
	}
	if c.TestCommand == "" {
		return fmt.Errorf("test_command is required")
	}
	return nil
}

// Credentials resolves the configured backend's API key and base URL,
// falling back to the conventional environment variable via viper's env
// binding when the config file carries no key.
func (c *Config) Credentials(getenv func(string) string) backend.Credentials {
	creds := backend.Credentials{
		APIKey:  c.APIKeys[c.Backend],
		BaseURL: c.BaseURLs[c.Backend],
	}
	if creds.APIKey == "" && getenv != nil {
		creds.APIKey = getenv(envKeyVars[c.Backend])
	}
	return creds
}

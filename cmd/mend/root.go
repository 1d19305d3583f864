// mend orchestrates LLM-backed program repair over a benchmark of issue/repo
// pairs: localize, patch, validate, and select one patch per issue.
//
// Usage:
//
//	mend run    --config mend.yaml
//	mend stage  --config mend.yaml --name line_localization
//	mend rerank --config mend.yaml
//	mend status [--run <id>]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mend/internal/config"
	"mend/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "mend",
	Short: "LLM-backed program repair over a benchmark of issues",
	Long: "Mend drives a fixed repair pipeline for each configured issue:\n" +
		"localization, retrieval-augmented patch generation across four repair\n" +
		"families, regression and reproduction validation, and consensus\n" +
		"reranking down to a single selected patch.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.configPath, "config", "c", "", "Path to YAML config (env MEND_* overrides apply)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(rerankCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = version
}

// loadConfig resolves and validates the configuration for commands that
// execute pipeline stages.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initLogging() {
	logging.Init(logging.ParseLevel(rootFlags.logLevel), rootFlags.logFormat)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command ntagctl is the single operator-facing tool for provisioning and
// inspecting NTAG 424 DNA tags: one cobra command tree covering diagnosis,
// provisioning, factory reset, and SDM URL generation/verification.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/ntag424sdm/internal/config"
)

var (
	version = "0.1.0"

	cfgPath    string
	readerIdx  int
	escapeMode bool
	verbose    bool
	logFormat  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "ntagctl",
	Short:   "Provision and inspect NTAG 424 DNA tags",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		} else {
			cfg = config.Default()
		}
		if readerIdx >= 0 {
			idx := readerIdx
			cfg.Reader.Index = &idx
		}
		if escapeMode {
			cfg.Reader.Escape = true
		}
		if verbose {
			cfg.Runtime.Verbose = true
		}
		if logFormat != "" {
			cfg.Runtime.LogFormat = logFormat
		}
		configureLogging(cfg)
		return nil
	},
}

func configureLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Runtime.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Runtime.LogFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to ntagctl config YAML")
	rootCmd.PersistentFlags().IntVarP(&readerIdx, "reader", "r", -1, "PC/SC reader index (auto-selects if only one)")
	rootCmd.PersistentFlags().BoolVar(&escapeMode, "escape", false, "use the reader's vendor escape frame for APDU transport")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(restoreFactoryCmd)
	rootCmd.AddCommand(sdmURLCmd)
	rootCmd.AddCommand(simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

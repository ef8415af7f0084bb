package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/titanfed/titan/internal/api"
	"github.com/titanfed/titan/internal/audit"
	"github.com/titanfed/titan/internal/config"
	"github.com/titanfed/titan/internal/logging"
	"github.com/titanfed/titan/internal/registry"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "titan",
	Short:   "Titan - entitlement and subscription lifecycle engine",
	Long:    `Titan folds payment-gateway webhook events into durable subscription state and answers role, scope and content-entitlement questions for the federation platform.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		if err := api.Run(context.Background(), Version); err != nil {
			log.Fatal().Err(err).Msg("Engine failed")
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(auditCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Titan %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run consistency checks against the registry",
	Long:  `Runs the read-only consistency auditor and prints its findings as JSON. Exit code 0 means clean, 1 means issues were found, 2 means the audit could not run.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runAudit())
	},
}

func runAudit() int {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "warn",
		Component: "audit",
	})

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		return 2
	}

	reg, err := registry.Open(cfg.RegistryDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open registry: %v\n", err)
		return 2
	}
	defer reg.Close()

	report := audit.New(reg).Run()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode report: %v\n", err)
		return 2
	}

	if !report.Clean() {
		return 1
	}
	return 0
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scan-dispatcher/internal/config"
	"scan-dispatcher/internal/logger"
)

var cfg config.Config

func main() {
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) {
		cfg = config.Load()
		logger.Init(cfg.LogLevel, cfg.Env)
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, agentCmd, jobCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("dispatcher failed: %v", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "dispatcher",
	Short:         "Hands scan jobs to agents and collects their results",
	SilenceUsage:  true,
	SilenceErrors: true,
}

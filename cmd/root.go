/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jjudge-oj/userservice/config"
	"github.com/jjudge-oj/userservice/internal/logging"
	"github.com/spf13/cobra"
)

const serviceName = "userservice"

// version is overridden at build time with -ldflags "-X".
var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "User records over HTTP, backed by Postgres or SQLite",
	Long: `userservice stores user records in a relational database and serves
them over a JSON HTTP API.

	userservice server
	userservice migrate up
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It cancels the command context on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the environment and builds the process logger.
func loadConfig() (config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	logger := logging.New(logging.Config{
		Service: serviceName,
		Version: version,
		Env:     cfg.Env,
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
	})
	return cfg, logger
}

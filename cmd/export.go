/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jjudge-oj/userservice/internal/db"
	"github.com/jjudge-oj/userservice/internal/storage"
	"github.com/jjudge-oj/userservice/internal/store"
	"github.com/spf13/cobra"
)

var exportKeep int

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSON snapshot of all users to object storage",
	Long: `Reads every user and uploads one JSON document to the configured
object storage (STORAGE_BACKEND=minio or gcs). Usage:

	userservice export --keep 7
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := loadConfig()
		ctx := cmd.Context()

		pool, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		objects, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer objects.Close()

		if err := objects.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", objects.Bucket(), err)
		}

		users, err := store.NewUserRepository(pool).List(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		key, err := objects.WriteSnapshot(ctx, users, time.Now())
		if err != nil {
			return err
		}
		logger.Info("snapshot written",
			slog.String("bucket", objects.Bucket()),
			slog.String("key", key),
			slog.Int("users", len(users)),
		)

		pruned, err := objects.PruneSnapshots(ctx, exportKeep)
		if err != nil {
			return err
		}
		if len(pruned) > 0 {
			logger.Info("old snapshots pruned", slog.Int("count", len(pruned)))
		}

		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().IntVar(&exportKeep, "keep", 0, "keep only the newest N snapshots (0 keeps all)")
}

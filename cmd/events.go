/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jjudge-oj/userservice/internal/mq"
	"github.com/spf13/cobra"
)

// eventsCmd represents the events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect user lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print user events from the broker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := loadConfig()
		ctx := cmd.Context()

		if cfg.MQ.Backend == "" {
			return errors.New("MQ_BACKEND is not set")
		}
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer queue.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		logger.Info("tailing events", slog.String("channel", cfg.MQ.Channel))

		err = queue.Subscribe(ctx, cfg.MQ.Channel, func(_ context.Context, msg mq.Message) error {
			evt, err := mq.DecodeUserEvent(msg)
			if err != nil {
				// Redelivering a payload we cannot parse would loop forever.
				logger.Warn("skipping undecodable message", slog.String("message_id", msg.ID), slog.Any("error", err))
				return nil
			}
			return enc.Encode(evt)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe %s: %w", cfg.MQ.Channel, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
}

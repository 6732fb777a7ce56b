/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/useraccounts/apiserver/config"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/mq"
	"github.com/useraccounts/apiserver/internal/services"
)

// notifierCmd consumes verification messages and delivers them.
var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Delivers account verification messages",
	Long: `Consumes verification messages published on account creation and
writes the verification link to the log sink. Usage:

	accountserver notifier
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format).With("component", "notifier")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg)
		if err != nil {
			if errors.Is(err, mq.ErrDisabled) {
				return errors.New("MQ_BACKEND must be set to run the notifier")
			}
			return fmt.Errorf("open message queue: %w", err)
		}
		defer queue.Close()

		log.Info(ctx, "consuming verification messages", "channel", cfg.Verification.Channel)
		err = queue.Subscribe(ctx, cfg.Verification.Channel, services.LogDelivery(log))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifierCmd)
}

/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/sweetcrumb/accounts/config"
	"github.com/sweetcrumb/accounts/internal/logger"
	"github.com/sweetcrumb/accounts/internal/mq"
	"github.com/sweetcrumb/accounts/internal/notify"
)

// mailWorkerCmd represents the mail-worker command
var mailWorkerCmd = &cobra.Command{
	Use:   "mail-worker",
	Short: "Delivers queued mail over SMTP",
	Long: `Consumes the outbound mail queue and delivers each message over SMTP.
Run it alongside servers started with MAIL_DRIVER=queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger.Init(cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sender, err := notify.NewSMTPMailer(cfg.Mail)
		if err != nil {
			return fmt.Errorf("smtp mailer: %w", err)
		}

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open message queue: %w", err)
		}
		defer queue.Close()

		worker := notify.NewWorker(queue, cfg.Mail.Queue, sender, logger.L)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailWorkerCmd)
}

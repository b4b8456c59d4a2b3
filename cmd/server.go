/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/sweetcrumb/accounts/config"
	"github.com/sweetcrumb/accounts/internal/logger"
	"github.com/sweetcrumb/accounts/internal/server"
)

const shutdownTimeout = 15 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the accounts HTTP server",
	Long: `Starts the accounts HTTP server. Usage:

	accounts server
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()
		logger.Init(cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
			os.Exit(1)
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.L.Error("shutdown", "error", err)
			}
		}()

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

// payctl is the operator CLI: migrations, offline reconciliation runs,
// report exports and admin credentials.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coursepay/payments/internal/app"
	"github.com/coursepay/payments/internal/config"
	"github.com/coursepay/payments/internal/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "payctl - operator tooling for the course payment ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(twoFactorCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logs go to stderr so command output can be piped
func setup() (config.Config, *slog.Logger) {
	cfg := config.Load()
	return cfg, logger.NewWithWriter(cfg.Env, os.Stderr)
}

func open(cmd *cobra.Command) (*app.App, error) {
	cfg, log := setup()
	return app.New(cmd.Context(), cfg, log)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := NewConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(cfg).ExecuteContext(ctx)
}

func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "tstore",
		Short:         "Print-on-demand storefront: checkout, payments and partner fulfillment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logger.Initialize(cfg.LogLevel, cfg.LogFile)
		},
	}
	bindFlags(root, cfg)

	root.AddCommand(
		newServeCmd(cfg),
		newRefreshCmd(cfg),
		newSubmitCmd(cfg),
		newPollOnceCmd(cfg),
		newSeedCmd(cfg),
		newCreateAdminCmd(cfg),
	)
	return root
}

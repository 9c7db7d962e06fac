package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// withApp validates the config, opens the dependencies and runs fn against them.
func withApp(cmd *cobra.Command, cfg *Config, fn func(ctx context.Context, a *app) error) error {
	if err := cfg.Validate(false); err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRefreshCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-fulfillment <order-id>",
		Short: "Fetch the partner status of one order and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				o, err := a.tracker.RefreshByID(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), o)
			})
		},
	}
}

func newSubmitCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "submit-fulfillment <order-id>",
		Short: "Submit a paid order to the print partner (no-op when already submitted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				res, err := a.submitter.SubmitOrderID(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newPollOnceCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "poll-once",
		Short: "Run a single fulfillment polling cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				n, err := a.poller.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked %d orders\n", n)
				return nil
			})
		},
	}
}

func newSeedCmd(cfg *Config) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load products and print specs from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				rep, err := a.catalog.Seed(ctx, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "catalog.yaml", "Seed file")
	return cmd
}

func newCreateAdminCmd(cfg *Config) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an operator account for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				ad, err := a.admins.CreateAdmin(ctx, email, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created (id %d)\n", ad.Email, ad.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (at least 8 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-checkout-pipeline/internal/app"
	"github.com/imrishuroy/go-checkout-pipeline/internal/aws"
	"github.com/imrishuroy/go-checkout-pipeline/internal/config"
	"github.com/imrishuroy/go-checkout-pipeline/internal/reconcile"
)

// Console is the subset of reconcile.Console the CLI drives.
type Console interface {
	ListOrphaned(ctx context.Context) ([]reconcile.Candidate, error)
	PaymentStatus(ctx context.Context, orderNumber string) (reconcile.PaymentStatus, error)
	AttemptRecovery(ctx context.Context, orderNumber string) (reconcile.RecoveryResult, error)
	Report(ctx context.Context) (reconcile.Report, error)
}

func main() {
	open := func(ctx context.Context) (Console, error) {
		clients, err := aws.NewAWSClients(ctx)
		if err != nil {
			return nil, err
		}
		return app.New(config.Load(), clients).Console, nil
	}

	if err := rootCmd(open, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(open func(context.Context) (Console, error), out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Inspect and recover payments that did not become orders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	run := func(fn func(ctx context.Context, c Console, args []string) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c, err := open(ctx)
			if err != nil {
				return fmt.Errorf("open console: %w", err)
			}
			v, err := fn(ctx, c, args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "orphaned",
		Short: "List order numbers whose pending order was missing at payment time",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c Console, _ []string) (any, error) {
			return c.ListOrphaned(ctx)
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "payment [order-number]",
		Short: "Show the payment log, order and pending order for one order number",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c Console, args []string) (any, error) {
			return c.PaymentStatus(ctx, args[0])
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "recover [order-number]",
		Short: "Materialize a surviving pending order or report what the log knows",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c Console, args []string) (any, error) {
			return c.AttemptRecovery(ctx, args[0])
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Summarize webhook volume, failures and orphaned payments",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c Console, _ []string) (any, error) {
			return c.Report(ctx)
		}),
	})
	return root
}

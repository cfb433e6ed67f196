// Command billpayctl runs operator tasks against the billpay database and
// reconciliation queue.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/deveasyclick/billpay/bootstrap"
	"github.com/deveasyclick/billpay/config"
	"github.com/deveasyclick/billpay/logger"
	"github.com/deveasyclick/billpay/models"
	"github.com/deveasyclick/billpay/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "billpayctl",
		Short:         "Operator tooling for the billpay service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(syncCatalogCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(workerCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for an unknown reference, 3 for a payment in the wrong state
// and 1 otherwise.
func exitCode(err error) int {
	switch {
	case services.IsKind(err, services.KindNotFound):
		return 2
	case services.IsKind(err, services.KindConflict):
		return 3
	default:
		return 1
	}
}

// withApp loads config, builds the dependency graph and runs fn with it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.MustInitialize(os.Getenv("APP_ENV"), nil)
	defer log.Sync() //nolint:errcheck

	cfg, err := config.LoadConfig(ctx, log)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func syncCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-catalog",
		Short: "Pull every provider's offers into the billing catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				stats, err := app.CatalogSync.Sync(ctx)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(stats))
				for name := range stats {
					names = append(names, string(name))
				}
				sort.Strings(names)

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-12s %7s %7s %7s %9s %7s  %s\n", "PROVIDER", "LISTED", "CREATED", "UPDATED", "UNCHANGED", "SKIPPED", "ERROR")
				for _, name := range names {
					st := stats[models.ProviderName(name)]
					fmt.Fprintf(out, "%-12s %7d %7d %7d %9d %7d  %s\n", name, st.Listed, st.Created, st.Updated, st.Unchanged, st.Skipped, st.Error)
				}
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [reference]",
		Short: "Queue a fresh reconciliation job for an unsettled payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				queued, svcErr := app.Reconciliation.Requeue(ctx, args[0])
				if svcErr != nil {
					return svcErr
				}
				if queued {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued reconciliation for %s\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Reconciliation for %s is already queued\n", args[0])
				}
				return nil
			})
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [reference]",
		Short: "Print a payment and its attempts as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				payment, svcErr := app.Payments.GetPayment(ctx, args[0])
				if svcErr != nil {
					return svcErr
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(payment)
			})
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the reconciliation queue without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
				app.Logger.Info("Reconciliation worker started", zap.String("queue", app.Config.ReconcileQueueURL))
				return app.Consumer.Start(ctx, app.Poller)
			})
		},
	}
}

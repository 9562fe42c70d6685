package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paycore/internal/service"
)

// inlineDispatcher processes replayed webhook events on the caller's
// goroutine.
type inlineDispatcher func(ctx context.Context, eventID int64) error

func (f inlineDispatcher) Dispatch(ctx context.Context, eventID int64) error {
	return f(ctx, eventID)
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one stale-attempt sweep and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			deps := a.deps()
			webhooks := service.NewWebhooks(deps, nil)
			sweeper := service.NewSweeper(deps, a.sweeperConfig(), inlineDispatcher(webhooks.Process))

			rep, err := sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.Migrate(ctx); err != nil {
				return err
			}
			a.log.Info("schema applied")
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paycore/internal/config"
	"github.com/punchamoorthee/paycore/internal/domain"
	"github.com/punchamoorthee/paycore/internal/store"
)

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage payment provider records",
	}
	cmd.AddCommand(providersSyncCmd())
	cmd.AddCommand(providersListCmd())
	return cmd
}

func providersSyncCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upsert providers from the catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if file == "" {
				file = a.cfg.ProvidersFile
			}
			catalog, err := config.LoadCatalog(file)
			if err != nil {
				return err
			}

			var synced []domain.Provider
			err = a.store.ExecTx(ctx, func(q store.Querier) error {
				synced, err = syncProviders(ctx, q, catalog)
				return err
			})
			if err != nil {
				return err
			}
			for _, p := range synced {
				if !a.registry.Has(p.Identifier) {
					a.log.Warn("provider has no adapter configured", "provider", p.Identifier)
				}
			}
			a.log.Info("providers synced", "count", len(synced), "file", file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog file (default PROVIDERS_FILE)")
	return cmd
}

func syncProviders(ctx context.Context, q store.Querier, catalog *config.Catalog) ([]domain.Provider, error) {
	records, err := catalog.ProviderRecords()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Provider, 0, len(records))
	for _, p := range records {
		saved, err := q.UpsertProvider(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("upsert provider %s: %w", p.Identifier, err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// syncFees adds each global fee config unless an active one already exists
// for its channel.
func syncFees(ctx context.Context, q store.Querier, catalog *config.Catalog) (int, error) {
	records, err := catalog.FeeRecords()
	if err != nil {
		return 0, err
	}
	created := 0
	for _, f := range records {
		_, err := q.GetActiveFeeConfig(ctx, nil, f.Channel)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return created, err
		}
		if _, err := q.CreateFeeConfig(ctx, f); err != nil {
			return created, fmt.Errorf("create fee config for %s: %w", f.Channel, err)
		}
		created++
	}
	return created, nil
}

func providersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List provider records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			providers, err := a.store.ListProviders(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tIDENTIFIER\tACTIVE\tHEALTHY\tCHANNELS\tADAPTER")
			for _, p := range providers {
				channels := make([]string, 0, len(p.SupportedChannels))
				for _, c := range p.SupportedChannels {
					channels = append(channels, string(c))
				}
				fmt.Fprintf(w, "%d\t%s\t%t\t%t\t%s\t%t\n",
					p.ID, p.Identifier, p.Active, p.Healthy, strings.Join(channels, ","), a.registry.Has(p.Identifier))
			}
			return w.Flush()
		},
	}
}

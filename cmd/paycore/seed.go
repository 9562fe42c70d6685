package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/paycore/internal/config"
	"github.com/punchamoorthee/paycore/internal/store"
)

func seedCmd() *cobra.Command {
	var (
		business string
		file     string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a business and load providers and global fees from the catalog",
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

			var (
				businessID int64
				providers  int
				fees       int
			)
			err = a.store.ExecTx(ctx, func(q store.Querier) error {
				b, err := q.CreateBusiness(ctx, business)
				if err != nil {
					return fmt.Errorf("create business: %w", err)
				}
				businessID = b.ID

				synced, err := syncProviders(ctx, q, catalog)
				if err != nil {
					return err
				}
				providers = len(synced)

				fees, err = syncFees(ctx, q, catalog)
				return err
			})
			if err != nil {
				return err
			}

			a.log.Info("seeded", "business_id", businessID, "providers", providers, "fee_configs", fees)
			fmt.Printf("business id: %d\n", businessID)
			return nil
		},
	}
	cmd.Flags().StringVar(&business, "business", "Demo Business", "name of the business to create")
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog file (default PROVIDERS_FILE)")
	return cmd
}

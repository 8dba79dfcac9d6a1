package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quinnhq/dispatch/internal/discovery"
	"github.com/quinnhq/dispatch/pkg/places"
)

var discoverRetry bool

var discoverCmd = &cobra.Command{
	Use:   "discover <request-id>",
	Short: "Run business discovery for a service request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		placesClient := places.NewClient(cfg.Places.Key, cfg.Places.Host, places.WithBaseURL(cfg.Places.BaseURL))
		engine := discovery.NewEngine(st, placesClient, discovery.Config{
			Limit:  cfg.Discovery.Limit,
			Region: cfg.Discovery.Region,
		})

		var n int
		if discoverRetry {
			n, err = engine.Retry(ctx, args[0])
		} else {
			n, err = engine.Discover(ctx, args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("Discovered %d businesses.\n", n)
		return nil
	},
}

func init() {
	discoverCmd.Flags().BoolVar(&discoverRetry, "retry", false, "clear previously discovered businesses first")
	rootCmd.AddCommand(discoverCmd)
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/paulohaalves-github/update-bitrix/internal/bitrix"
)

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List deal categories (pipelines) with their IDs",
		Long: `List all Bitrix24 deal categories so the IDs can be copied into the
pipelines list of the sync file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := bitrix.NewClient(loadedCfg.BitrixWebhook, defaultHTTPClient(), nil, buildLogger())

			categories, err := client.Categories(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing categories: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")

			for _, cat := range categories {
				fmt.Fprintf(w, "%d\t%s\n", int(cat.ID), cat.Name)
			}

			return w.Flush()
		},
	}
}

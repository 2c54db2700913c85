package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulohaalves-github/update-bitrix/internal/ledger"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show propagation ledger statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := ledger.Open(cmd.Context(), loadedCfg.LedgerPath, buildLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Ledger:        %s\n", loadedCfg.LedgerPath)
			fmt.Printf("Propagations:  %d\n", count)

			return nil
		},
	}
}

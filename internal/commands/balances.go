package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cryptoledger/reader/binance"
)

func newBalancesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "List the account's non-zero balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Exchange.RequireCredentials(); err != nil {
				return err
			}

			balances, err := binance.NewClient(a.cfg).Balances(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ASSET\tFREE\tLOCKED\tTOTAL")
			for _, b := range balances {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Asset, b.Free.String(), b.Locked.String(), b.Total().String())
			}
			return w.Flush()
		},
	}
}

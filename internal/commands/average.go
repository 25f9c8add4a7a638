package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cryptoledger/internal/pricing"
	"cryptoledger/logger"
	"cryptoledger/models"
	"cryptoledger/reader/binance"
)

func newAverageCommand(a *app) *cobra.Command {
	var file, kind, side string

	cmd := &cobra.Command{
		Use:   "average",
		Short: "Weighted average USD price per asset of a fiat or convert export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runAverage(cmd, file, kind, side)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV export to read (required)")
	_ = cmd.MarkFlagRequired("file")
	cmd.Flags().StringVar(&kind, "kind", "", "fiat or convert; guessed from the file name when empty")
	cmd.Flags().StringVar(&side, "side", "buy", "buy groups by received asset, sell by spent asset")

	return cmd
}

func (a *app) runAverage(cmd *cobra.Command, file, kindFlag, sideFlag string) error {
	side, err := models.ParseSide(sideFlag)
	if err != nil {
		return err
	}

	var kind models.TransactionType
	if kindFlag != "" {
		if kind, err = models.ParseTransactionType(kindFlag); err != nil {
			return err
		}
	} else {
		var ok bool
		if kind, ok = pricing.KindFromPath(file); !ok {
			return fmt.Errorf("cannot tell the export kind of %s, pass --kind", file)
		}
	}

	table, err := pricing.ReadTable(file)
	if err != nil {
		return err
	}

	client := binance.NewClient(a.cfg)
	if err := pricing.Backfill(cmd.Context(), table, kind, client, a.cfg.Export.Location()); err != nil {
		return err
	}

	avgs, err := pricing.WeightedAverage(table, kind, side)
	if err != nil {
		return err
	}

	a.log.WithComponent("average").WithFields(logger.Fields{
		"file":   file,
		"kind":   kind.String(),
		"side":   string(side),
		"assets": len(avgs),
	}).Info("averages computed")

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ASSET\tAVG_%s_VALUE\tTOTAL_AMOUNT\n", strings.ToUpper(string(side)))
	for _, avg := range avgs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", avg.Asset, avg.AvgValue.StringFixed(8), avg.TotalAmount.String())
	}
	return w.Flush()
}

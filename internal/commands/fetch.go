package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cryptoledger/config"
	"cryptoledger/internal/pipeline"
	"cryptoledger/logger"
	"cryptoledger/models"
	"cryptoledger/reader/binance"
	"cryptoledger/writer"
)

type fetchOptions struct {
	types   []string
	start   string
	end     string
	symbols []string
	side    string
	store   bool
}

func newFetchCommand(a *app) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch, normalize and export transaction history",
		Long: `Fetch one or more transaction types (trade, fiat, convert, deposit, withdraw, or all).
Date ranged types are queried in windows of one calendar month. Trades are
queried per symbol; without --symbol the symbols are built from the assets
currently held.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runFetch(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.types, "type", "t", nil, "transaction types to fetch (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&opts.start, "start", "", "start date, day first (e.g. 01-07-2023)")
	cmd.Flags().StringVar(&opts.end, "end", "", "end date, day first; defaults to now when --start is set")
	cmd.Flags().StringSliceVarP(&opts.symbols, "symbol", "s", nil, "trade symbols (e.g. BTCUSDT)")
	cmd.Flags().StringVar(&opts.side, "side", "buy", "fiat order side: buy or sell")
	cmd.Flags().BoolVar(&opts.store, "store", false, "merge record ids into the incremental JSON store")

	return cmd
}

func parseTypes(values []string) ([]models.TransactionType, error) {
	var out []models.TransactionType
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), "all") {
			return models.TransactionTypes, nil
		}
		t, err := models.ParseTransactionType(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", binance.ErrUnsupportedTransactionType, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (a *app) runFetch(cmd *cobra.Command, opts fetchOptions) error {
	ctx := cmd.Context()
	log := a.log.WithComponent("fetch")

	types, err := parseTypes(opts.types)
	if err != nil {
		return err
	}
	side, err := models.ParseSide(opts.side)
	if err != nil {
		return err
	}
	if err := a.cfg.Exchange.RequireCredentials(); err != nil {
		return err
	}

	configs, err := config.LoadTransactionConfigs(a.cfg.Transactions.Path)
	if err != nil {
		return err
	}

	uploaders, err := writer.NewUploaders(ctx, a.cfg.Storage)
	if err != nil {
		if config.IsProductionLike(config.AppEnvironment()) {
			return err
		}
		log.WithError(err).Warn("export uploads disabled")
		uploaders = nil
	}

	defer logger.LogReport(ctx, a.log)

	client := binance.NewClient(a.cfg)
	p := pipeline.New(a.cfg, client, configs, uploaders)
	out := cmd.OutOrStdout()

	for _, t := range types {
		fmt.Fprintf(out, "fetching %s...\n", t)
		res, err := p.Run(ctx, pipeline.Request{
			Type:    t,
			Start:   opts.start,
			End:     opts.end,
			Symbols: opts.symbols,
			Side:    side,
			Store:   opts.store,
		})
		if err != nil {
			return fmt.Errorf("fetch %s: %w", t, err)
		}

		fmt.Fprintf(out, "%s: %d records, %d skipped, %d without usd value\n", t, res.Records, res.SkippedWindows, res.Unvalued)
		for _, f := range res.Files {
			fmt.Fprintf(out, "  wrote %s (%d bytes)\n", f.Path, f.Size)
		}
		if opts.store {
			fmt.Fprintf(out, "  store: %d new ids\n", res.StoreAdded)
		}
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptoledger/config"
	"cryptoledger/internal/metadata"
	"cryptoledger/internal/metrics"
	"cryptoledger/internal/symbols"
	"cryptoledger/internal/window"
	"cryptoledger/logger"
	"cryptoledger/models"
	"cryptoledger/processor"
	"cryptoledger/reader/binance"
	"cryptoledger/writer"
)

const component = "pipeline"

// Exchange is the part of the Binance client the pipeline drives.
type Exchange interface {
	History(ctx context.Context, t models.TransactionType, opts binance.Options) (any, error)
	HeldAssets(ctx context.Context) ([]string, error)
	USDPrice(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)
}

// Request selects what one fetch run exports.
type Request struct {
	Type    models.TransactionType
	Start   string
	End     string
	Symbols []string
	Side    models.Side
	Store   bool
}

// Result summarizes one fetch run.
type Result struct {
	RunID          string
	Type           models.TransactionType
	Records        int
	Unvalued       int
	SkippedWindows int
	StoreAdded     int
	Files          []writer.ExportedFile
	UploadErrors   int
}

// Pipeline fetches, normalizes, values and exports one transaction type at
// a time.
type Pipeline struct {
	cfg        *config.Config
	exchange   Exchange
	configs    config.TransactionConfigs
	normalizer *processor.Normalizer
	splitter   *window.Splitter
	uploaders  []writer.Uploader
	env        string
	log        *logger.Log
	now        func() time.Time
}

func New(cfg *config.Config, exchange Exchange, configs config.TransactionConfigs, uploaders []writer.Uploader) *Pipeline {
	loc := cfg.Export.Location()
	return &Pipeline{
		cfg:        cfg,
		exchange:   exchange,
		configs:    configs,
		normalizer: processor.NewNormalizer(configs, loc),
		splitter:   window.NewSplitter(nil),
		uploaders:  uploaders,
		env:        config.AppEnvironment(),
		log:        logger.GetLogger(),
		now:        time.Now,
	}
}

// Run executes one fetch. API errors of a single window or symbol are logged
// and skipped; transport, configuration and export errors abort the run
// before anything is written.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Type: req.Type}
	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"run_id":      res.RunID,
		"transaction": req.Type.String(),
	})

	if _, err := p.configs.Select(req.Type); err != nil {
		return nil, err
	}

	windows, syms, err := p.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{"windows": len(windows), "symbols": len(syms)}).Info("fetch planned")

	table := writer.NewTable(req.Type)
	for _, w := range windows {
		for _, sym := range syms {
			batch, skipped, err := p.fetch(ctx, req, w, sym)
			if err != nil {
				return nil, err
			}
			if skipped {
				res.SkippedWindows++
				continue
			}

			valued, unvalued, err := p.value(ctx, batch)
			if err != nil {
				return nil, err
			}
			res.Unvalued += unvalued
			table.Accumulate(valued)
		}
	}
	table.Finalize()
	res.Records = table.Len()

	if table.Len() == 0 {
		log.WithFields(logger.Fields{"skipped_windows": res.SkippedWindows}).Warn("no records fetched, nothing exported")
		return res, nil
	}

	if err := p.export(ctx, table, req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// plan returns the query windows and symbols. Trades are queried per symbol
// without a date filter; the other types per window.
func (p *Pipeline) plan(ctx context.Context, req Request) ([]models.DateWindow, []string, error) {
	if req.Type != models.TransactionTrade {
		windows, err := p.splitter.ParseRange(req.Start, req.End, p.cfg.Export.Location())
		if err != nil {
			return nil, nil, err
		}
		return windows, []string{""}, nil
	}

	if req.Start != "" || req.End != "" {
		p.log.WithComponent(component).Warn("trade history is queried per symbol, the date range is ignored")
	}

	syms := make([]string, 0, len(req.Symbols))
	for _, s := range req.Symbols {
		if s = symbols.Normalize(s); s != "" {
			syms = append(syms, s)
		}
	}
	if len(syms) == 0 {
		assets, err := p.exchange.HeldAssets(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("discover trade symbols: %w", err)
		}
		syms = symbols.ForAssets(assets, p.cfg.Exchange.QuoteAssets)
		p.log.WithComponent(component).WithFields(logger.Fields{
			"assets":  len(assets),
			"symbols": len(syms),
		}).Info("trade symbols discovered from balances")
	}
	return []models.DateWindow{{}}, syms, nil
}

func (p *Pipeline) fetch(ctx context.Context, req Request, w models.DateWindow, sym string) ([]models.CanonicalTransaction, bool, error) {
	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"transaction": req.Type.String(),
		"window":      w.String(),
	})
	if sym != "" {
		log = log.WithField("symbol", sym)
	}

	raw, err := p.exchange.History(ctx, req.Type, binance.WindowOptions(w, sym, req.Side))
	if err != nil {
		var apiErr *binance.APIError
		if errors.As(err, &apiErr) {
			log.WithFields(logger.Fields{"code": apiErr.Code, "msg": apiErr.Msg}).Warn("api error, skipping")
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("fetch %s %s: %w", req.Type, w, err)
	}

	batch, err := p.normalizer.Process(raw, req.Type)
	if err != nil {
		return nil, false, err
	}
	logger.LogDataFlowEntry(log, "binance", "table", len(batch), req.Type.String())
	return batch, false, nil
}

// value attaches USD values. A missing price or incomplete legs leave the
// record unvalued; transport errors abort.
func (p *Pipeline) value(ctx context.Context, batch []models.CanonicalTransaction) ([]models.CanonicalTransaction, int, error) {
	loc := p.cfg.Export.Location()
	out := make([]models.CanonicalTransaction, 0, len(batch))
	unvalued := 0
	for _, rec := range batch {
		valued, err := processor.AttachUSDValue(ctx, rec, p.exchange, loc)
		if err != nil {
			var apiErr *binance.APIError
			if !errors.As(err, &apiErr) && !errors.Is(err, binance.ErrNoPrice) && !errors.Is(err, processor.ErrMissingLegs) {
				return nil, 0, fmt.Errorf("value record %s: %w", rec.ID(), err)
			}
			p.log.WithComponent(component).WithFields(logger.Fields{"id": rec.ID()}).WithError(err).Warn("record left without usd value")
			unvalued++
			out = append(out, rec)
			continue
		}
		out = append(out, valued)
	}
	return out, unvalued, nil
}

// export stages every format, uploads the staged files, then moves them into
// the export directory and records the store and manifest. A fatal error at
// any step rolls the export directory back to its previous state.
func (p *Pipeline) export(ctx context.Context, table *writer.Table, req Request, res *Result) (err error) {
	runAt := p.now()
	stats := metrics.ExportStats{Transaction: req.Type.String()}

	staged, err := writer.Stage(table, p.cfg.Export.Dir, p.cfg.Export.Formats)
	if err != nil {
		return err
	}
	var restoreStore func()
	defer func() {
		if err != nil {
			staged.Rollback()
			if restoreStore != nil {
				restoreStore()
			}
			res.Files = nil
			return
		}
		staged.Finish()
	}()

	for _, f := range staged.Files {
		stats.FilesWritten++
		stats.BytesWritten += f.Size
	}
	stats.RecordsWritten = int64(table.Len())

	var storePath string
	var existing, merged []writer.StoreEntry
	if req.Store {
		storePath = writer.StorePath(p.cfg.Export.StoreDir, req.Type)
		if existing, err = writer.LoadStore(storePath); err != nil {
			return err
		}
		var added int
		merged, added = writer.DedupeByID(existing, table.Records())
		res.StoreAdded = added
		stats.Duplicates = int64(table.Len() - added)
	}

	failed, uploadErr := writer.UploadAll(ctx, p.uploaders, p.cfg.Storage, req.Type, runAt, staged.Files)
	res.UploadErrors = failed
	stats.UploadErrors = int64(failed)
	if uploadErr != nil && config.IsProductionLike(p.env) {
		return uploadErr
	}

	if res.Files, err = staged.Commit(); err != nil {
		return err
	}

	if req.Store {
		_, statErr := os.Stat(storePath)
		hadStore := statErr == nil
		if err := writer.SaveStore(storePath, merged); err != nil {
			return err
		}
		restoreStore = func() {
			var rerr error
			if hadStore {
				rerr = writer.SaveStore(storePath, existing)
			} else {
				rerr = os.Remove(storePath)
			}
			if rerr != nil {
				p.log.WithComponent(component).WithError(rerr).Warn("failed to restore incremental store")
			}
		}
	}

	if p.cfg.Export.Manifest {
		if err := p.writeManifest(table, res, runAt); err != nil {
			return err
		}
	}

	metrics.ReportExport(p.log, component, stats)
	return nil
}

func (p *Pipeline) writeManifest(table *writer.Table, res *Result, runAt time.Time) error {
	base := filepath.Join(p.cfg.Export.Dir, "_manifest", table.Type.String())
	gen, err := metadata.NewGenerator(base, table.Type.String())
	if err != nil {
		return err
	}

	first, last := table.Span()
	files := make([]metadata.DataFile, 0, len(res.Files))
	for _, f := range res.Files {
		files = append(files, metadata.DataFile{
			Path:        f.Path,
			Format:      f.Format,
			FileSize:    f.Size,
			RecordCount: int64(f.Records),
			Partition: map[string]string{
				"transaction": table.Type.String(),
				"first_dt":    first,
				"last_dt":     last,
			},
		})
	}
	snap, err := gen.AddSnapshot(res.RunID, runAt, files)
	if err != nil {
		return fmt.Errorf("write export manifest: %w", err)
	}
	p.log.WithComponent(component).WithFields(logger.Fields{
		"snapshot_id": snap.SnapshotID,
		"manifest":    snap.Manifest,
	}).Debug("export manifest written")
	return nil
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoledger/config"
	"cryptoledger/internal/window"
	"cryptoledger/models"
	"cryptoledger/reader/binance"
	"cryptoledger/writer"
)

const phaTrades = `[
  {"commission":"0.75800000","commissionAsset":"PHA","id":27542515,"isBuyer":true,"orderId":242129954,
   "price":"0.16900000","qty":"758.00000000","quoteQty":"128.10200000","symbol":"PHAUSDT","time":1733901279809},
  {"commission":"0.56608000","commissionAsset":"USDT","id":29370585,"isBuyer":false,"orderId":251681116,
   "price":"0.30500000","qty":"1856.00000000","quoteQty":"566.08000000","symbol":"PHAUSDT","time":1735190184846}
]`

func decode(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out any
	require.NoError(t, dec.Decode(&out))
	return out
}

type fakeExchange struct {
	mu        sync.Mutex
	responses map[string]any
	errs      map[string]error
	held      []string
	price     decimal.Decimal
	priceErr  error
	calls     []binance.Options
}

// key identifies a request by symbol, or by the month its window starts in.
func key(opts binance.Options) string {
	if opts.Symbol != "" {
		return opts.Symbol
	}
	if opts.StartTime != nil {
		return opts.StartTime.Format("2006-01")
	}
	return "all"
}

func (f *fakeExchange) History(_ context.Context, _ models.TransactionType, opts binance.Options) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	k := key(opts)
	if err, ok := f.errs[k]; ok {
		return nil, err
	}
	if resp, ok := f.responses[k]; ok {
		return resp, nil
	}
	return []any{}, nil
}

func (f *fakeExchange) HeldAssets(context.Context) ([]string, error) {
	return f.held, nil
}

func (f *fakeExchange) USDPrice(context.Context, string, time.Time) (decimal.Decimal, error) {
	return f.price, f.priceErr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Exchange: config.ExchangeConfig{QuoteAssets: []string{"USDT", "USDC"}},
		Export: config.ExportConfig{
			Dir:      filepath.Join(dir, "exports"),
			StoreDir: filepath.Join(dir, "store"),
			Formats:  []string{config.FormatCSV},
			TimeZone: "UTC",
			Manifest: true,
		},
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, ex Exchange, uploaders ...writer.Uploader) *Pipeline {
	t.Helper()
	configs, err := config.LoadTransactionConfigs("")
	require.NoError(t, err)
	p := New(cfg, ex, configs, uploaders)
	p.env = config.EnvironmentDevelopment
	p.now = func() time.Time { return time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC) }
	p.splitter = window.NewSplitter(p.now)
	return p
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRunDepositsSkipsAPIErrorWindow(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{
		responses: map[string]any{
			"2024-01": decode(t, `[{"id":"d2","insertTime":1705312800000,"coin":"eth","amount":"1.5","network":"ETH","txId":"0x2"}]`),
			"2024-03": decode(t, `[{"id":"d1","insertTime":1704190000000,"coin":"btc","amount":"0.1","network":"BTC","txId":"0x1"},
			                       {"id":"bad","coin":"btc","amount":"0.1"}]`),
		},
		errs: map[string]error{"2024-02": &binance.APIError{Status: 400, Code: -1127, Msg: "More than 90 days"}},
	}
	p := newTestPipeline(t, cfg, ex)

	res, err := p.Run(context.Background(), Request{Type: models.TransactionDeposit, Start: "01-01-2024", End: "15-03-2024", Store: true})
	require.NoError(t, err)

	assert.Len(t, ex.calls, 3)
	assert.Equal(t, 1, res.SkippedWindows)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, res.StoreAdded)
	require.Len(t, res.Files, 1)

	rows := readCSV(t, res.Files[0].Path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "dt", "to_asset", "to_amount", "network", "tx_id", "transaction"}, rows[0])
	assert.Equal(t, "d1", rows[1][0], "rows are sorted by dt")
	assert.Equal(t, "2024-01-02 10:06:40", rows[1][1])
	assert.Equal(t, "d2", rows[2][0])

	store, err := writer.LoadStore(writer.StorePath(cfg.Export.StoreDir, models.TransactionDeposit))
	require.NoError(t, err)
	assert.Len(t, store, 2)

	_, err = os.Stat(filepath.Join(cfg.Export.Dir, "_manifest", "deposit", "metadata", "metadata.json"))
	assert.NoError(t, err)

	again, err := p.Run(context.Background(), Request{Type: models.TransactionDeposit, Start: "01-01-2024", End: "15-03-2024", Store: true})
	require.NoError(t, err)
	assert.Zero(t, again.StoreAdded)
}

func TestRunTradesDiscoversSymbols(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{
		held:      []string{"PHA", "USDT"},
		responses: map[string]any{"PHAUSDT": decode(t, phaTrades)},
		errs:      map[string]error{"PHAUSDC": &binance.APIError{Status: 400, Code: -1121, Msg: "Invalid symbol."}},
		priceErr:  errors.New("trades with a USD leg need no price"),
	}
	p := newTestPipeline(t, cfg, ex)

	res, err := p.Run(context.Background(), Request{Type: models.TransactionTrade})
	require.NoError(t, err)

	var requested []string
	for _, c := range ex.calls {
		requested = append(requested, c.Symbol)
		assert.Nil(t, c.StartTime)
	}
	assert.Equal(t, []string{"PHAUSDC", "PHAUSDT", "USDTUSDC"}, requested)
	assert.Equal(t, 1, res.SkippedWindows)
	assert.Equal(t, 2, res.Records)
	assert.Zero(t, res.Unvalued)

	rows := readCSV(t, res.Files[0].Path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "dt", "pair", "amount", "value", "fee", "fee_asset", "transaction", "side", "value_usd"}, rows[0])
	assert.Equal(t, []string{"242129954", "2024-12-11 07:14:39", "PHAUSDT", "758.00000000", "128.10200000", "0.75800000", "PHA", "trade", "BUY", "128.10"}, rows[1])
	assert.Equal(t, "SELL", rows[2][8])
	assert.Equal(t, "566.08", rows[2][9])
}

func TestRunExplicitSymbols(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{responses: map[string]any{"PHAUSDT": decode(t, phaTrades)}}
	p := newTestPipeline(t, cfg, ex)

	res, err := p.Run(context.Background(), Request{Type: models.TransactionTrade, Symbols: []string{" phausdt "}})
	require.NoError(t, err)
	require.Len(t, ex.calls, 1)
	assert.Equal(t, "PHAUSDT", ex.calls[0].Symbol)
	assert.Equal(t, 2, res.Records)
}

func TestRunTransportErrorWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{errs: map[string]error{"all": errors.New("dial tcp: connection refused")}}
	p := newTestPipeline(t, cfg, ex)

	_, err := p.Run(context.Background(), Request{Type: models.TransactionWithdraw, Store: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, statErr := os.Stat(cfg.Export.Dir)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(cfg.Export.StoreDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunConvertKeepsUnpricedRecords(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{
		responses: map[string]any{"all": decode(t, `{"list":[
			{"orderId":1,"createTime":1704448830000,"fromAsset":"BTC","fromAmount":"0.1","toAsset":"ETH","toAmount":"1.5","ratio":"15"},
			{"orderId":2,"createTime":1704448890000,"fromAsset":"BTC","fromAmount":"0.01","toAsset":"USDT","toAmount":"420.555","ratio":"42055.5"}
		],"moreData":false}`)},
		priceErr: binance.ErrNoPrice,
	}
	p := newTestPipeline(t, cfg, ex)

	res, err := p.Run(context.Background(), Request{Type: models.TransactionConvert})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Unvalued)

	rows := readCSV(t, res.Files[0].Path)
	require.Len(t, rows, 3)
	assert.Equal(t, "value_usd", rows[0][len(rows[0])-1])
	assert.Equal(t, "", rows[1][len(rows[0])-1])
	assert.Equal(t, "420.56", rows[2][len(rows[0])-1])
}

func TestRunConvertTransportErrorOnPrice(t *testing.T) {
	cfg := testConfig(t)
	ex := &fakeExchange{
		responses: map[string]any{"all": decode(t, `{"list":[
			{"orderId":1,"createTime":1704448830000,"fromAsset":"BTC","fromAmount":"0.1","toAsset":"ETH","toAmount":"1.5","ratio":"15"}
		]}`)},
		priceErr: errors.New("klines BTCUSDT: i/o timeout"),
	}
	_, err := newTestPipeline(t, cfg, ex).Run(context.Background(), Request{Type: models.TransactionConvert})
	assert.Error(t, err)
}

func TestRunMissingTypeConfig(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, &fakeExchange{})
	delete(p.configs, models.TransactionWithdraw)

	_, err := p.Run(context.Background(), Request{Type: models.TransactionWithdraw})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestRunEmptyResultExportsNothing(t *testing.T) {
	cfg := testConfig(t)
	res, err := newTestPipeline(t, cfg, &fakeExchange{}).Run(context.Background(), Request{Type: models.TransactionWithdraw})
	require.NoError(t, err)
	assert.Zero(t, res.Records)
	assert.Empty(t, res.Files)
}

func TestRunInvalidDateRange(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, &fakeExchange{})
	_, err := p.Run(context.Background(), Request{Type: models.TransactionFiat, Start: "10-02-2024", End: "01-01-2024"})
	assert.Error(t, err)
}

type brokenUploader struct{}

func (brokenUploader) Name() string { return "broken" }
func (brokenUploader) Upload(context.Context, string, string) error {
	return errors.New("bucket unreachable")
}

func TestRunUploadFailureByEnvironment(t *testing.T) {
	resp := `[{"id":"w1","applyTime":"2024-01-02 10:00:00","coin":"BTC","amount":"0.1","transactionFee":"0.0001","network":"BTC","txId":"0x1"}]`

	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, &fakeExchange{responses: map[string]any{"all": decode(t, resp)}}, brokenUploader{})
	res, err := p.Run(context.Background(), Request{Type: models.TransactionWithdraw})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UploadErrors)

	p.env = config.EnvironmentProduction
	_, err = p.Run(context.Background(), Request{Type: models.TransactionWithdraw})
	assert.ErrorContains(t, err, "bucket unreachable")

	entries, err := os.ReadDir(cfg.Export.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".staging-"), "staging directory %s left behind", e.Name())
	}
}

func TestRunAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, binance.PathDepositHistory, r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.Equal(t, "true", r.URL.Query().Get("includeSource"))
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "7")
		w.Write([]byte(`[{"id":"d1","insertTime":1704190000000,"coin":"btc","amount":"0.1","network":"BTC","txId":"0x1"}]`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Exchange.BaseURL = srv.URL
	cfg.Exchange.Timeout = 5 * time.Second
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"
	cfg.Metrics.UsedWeight = true

	p := newTestPipeline(t, cfg, binance.NewClient(cfg))
	res, err := p.Run(context.Background(), Request{Type: models.TransactionDeposit})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
}

func TestRunSkipsErrorPayloadWithOKStatus(t *testing.T) {
	february := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		require.NoError(t, err)
		if start >= february {
			w.Write([]byte(`{"code":-1127,"msg":"More than 90 days between startTime and endTime."}`))
			return
		}
		w.Write([]byte(`[{"id":"d1","insertTime":1704190000000,"coin":"btc","amount":"0.1","network":"BTC","txId":"0x1"}]`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Exchange.BaseURL = srv.URL
	cfg.Exchange.Timeout = 5 * time.Second
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"

	p := newTestPipeline(t, cfg, binance.NewClient(cfg))
	res, err := p.Run(context.Background(), Request{Type: models.TransactionDeposit, Start: "01-01-2024", End: "15-02-2024"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedWindows)
	assert.Equal(t, 1, res.Records)
}

func TestRunFormatFailureWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Formats = []string{config.FormatCSV, "bogus"}
	ex := &fakeExchange{responses: map[string]any{"all": decode(t, `[{"id":"w1","applyTime":"2024-01-02 10:00:00","coin":"BTC","amount":"0.1","transactionFee":"0.0001","network":"BTC","txId":"0x1"}]`)}}
	p := newTestPipeline(t, cfg, ex)

	_, err := p.Run(context.Background(), Request{Type: models.TransactionWithdraw, Store: true})
	require.Error(t, err)

	entries, err := os.ReadDir(cfg.Export.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(writer.StorePath(cfg.Export.StoreDir, models.TransactionWithdraw))
	assert.True(t, os.IsNotExist(err))
}

func TestRunManifestFailureRollsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Formats = []string{config.FormatCSV, config.FormatParquet}

	previous := filepath.Join(cfg.Export.Dir, "deposit.csv")
	metadataDir := filepath.Join(cfg.Export.Dir, "_manifest", "deposit", "metadata")
	require.NoError(t, os.MkdirAll(metadataDir, 0o755))
	require.NoError(t, os.WriteFile(previous, []byte("id\nold\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(metadataDir, "metadata.json"), []byte("{broken"), 0o644))

	ex := &fakeExchange{responses: map[string]any{"all": decode(t, `[{"id":"d1","insertTime":1704190000000,"coin":"btc","amount":"0.1","network":"BTC","txId":"0x1"}]`)}}
	p := newTestPipeline(t, cfg, ex)

	_, err := p.Run(context.Background(), Request{Type: models.TransactionDeposit, Store: true})
	require.Error(t, err)

	entries, err := os.ReadDir(cfg.Export.Dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"_manifest", "deposit.csv"}, names)

	data, err := os.ReadFile(previous)
	require.NoError(t, err)
	assert.Equal(t, "id\nold\n", string(data))

	_, err = os.Stat(writer.StorePath(cfg.Export.StoreDir, models.TransactionDeposit))
	assert.True(t, os.IsNotExist(err), "store is restored to its previous state")
}

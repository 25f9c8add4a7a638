package commands

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoledger/config"
	"cryptoledger/reader/binance"
)

func writeConfig(t *testing.T, baseURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	exportDir := filepath.Join(dir, "export")
	content := fmt.Sprintf(`cryptoledger:
  name: "cryptoledger"
  version: "test"
exchange:
  base_url: %q
  timeout: 5s
export:
  dir: %q
  store_dir: %q
  formats: ["csv", "xlsx"]
  time_zone: "UTC"
logging:
  level: "error"
  format: "text"
  output: "stderr"
metrics:
  used_weight: false
`, baseURL, exportDir, filepath.Join(dir, "store"))

	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, exportDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionNeedsNoConfig(t *testing.T) {
	out, err := run(t, "version", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, "cryptoledger dev\n", out)
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "balances", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestFetchRequiresCredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_SECRET_KEY", "")
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")

	_, err := run(t, "fetch", "--config", cfgPath, "--type", "deposit")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestFetchRejectsUnknownType(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	_, err := run(t, "fetch", "--config", cfgPath, "--type", "margin")
	assert.ErrorIs(t, err, binance.ErrUnsupportedTransactionType)

	_, err = run(t, "fetch", "--config", cfgPath, "--type", "fiat", "--side", "hold")
	assert.Error(t, err)
}

func TestFetchDeposits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != binance.PathDepositHistory {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"id":"d1","insertTime":1704190000000,"coin":"btc","amount":"0.1","network":"BTC","txId":"0x1"}]`))
	}))
	defer srv.Close()

	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_SECRET_KEY", "secret")
	cfgPath, exportDir := writeConfig(t, srv.URL)

	out, err := run(t, "fetch", "--config", cfgPath, "--type", "deposit", "--store")
	require.NoError(t, err)
	assert.Contains(t, out, "deposit: 1 records, 0 skipped")
	assert.Contains(t, out, "store: 1 new ids")

	for _, name := range []string{"deposit.csv", "deposit.xlsx"} {
		_, err := os.Stat(filepath.Join(exportDir, name))
		assert.NoError(t, err, name)
	}
}

func TestAverageFiat(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	csvPath := filepath.Join(t.TempDir(), "fiat.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(`id,dt,from_asset,from_amount,to_asset,to_amount,price
a,2024-01-05 10:00:00,EUR,100,USDT,100,1
b,2024-02-05 10:00:00,EUR,300,USDT,300,0.9
`), 0o644))

	out, err := run(t, "average", "--config", cfgPath, "--file", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "AVG_BUY_VALUE")
	assert.Contains(t, out, "USDT")
	assert.Contains(t, out, "0.92500000")
	assert.Contains(t, out, "400")
}

func TestAverageNeedsKind(t *testing.T) {
	cfgPath, _ := writeConfig(t, "http://127.0.0.1:1")
	csvPath := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("id\n1\n"), 0o644))

	_, err := run(t, "average", "--config", cfgPath, "--file", csvPath)
	assert.ErrorContains(t, err, "--kind")
}

package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoledger/config"
	"cryptoledger/models"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Exchange: config.ExchangeConfig{
			BaseURL:   baseURL,
			Timeout:   5 * time.Second,
			APIKey:    "test-key",
			SecretKey: "test-secret",
		},
		Export: config.ExportConfig{TimeZone: "UTC"},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(testConfig(srv.URL))
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestSendSignedSignsQuery(t *testing.T) {
	var rawQuery, apiKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		apiKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`[]`))
	})

	params := url.Values{"symbol": {"PHAUSDT"}}
	out, err := c.SendSigned(context.Background(), http.MethodGet, PathMyTrades, params)
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
	assert.Equal(t, "test-key", apiKey)

	idx := strings.LastIndex(rawQuery, "&signature=")
	require.Greater(t, idx, 0)
	signed, signature := rawQuery[:idx], rawQuery[idx+len("&signature="):]
	assert.Equal(t, "symbol=PHAUSDT&timestamp=1700000000000", signed)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(signed))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)

	assert.Len(t, params, 1, "caller params must not be modified")
}

func TestSendSignedRequiresCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})
	c.sdk.SecretKey = ""

	_, err := c.SendSigned(context.Background(), http.MethodGet, PathMyTrades, nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestSendSignedRejectsUnknownEndpoint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no request expected")
	})
	_, err := c.SendSigned(context.Background(), http.MethodGet, "/api/v3/order", nil)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestSendSignedAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := c.SendSigned(context.Background(), http.MethodGet, PathMyTrades, url.Values{"symbol": {"NOPE"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(-1121), apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Msg)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSendSignedAPIErrorWithOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := c.SendSigned(context.Background(), http.MethodGet, PathMyTrades, url.Values{"symbol": {"NOPE"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(-1121), apiErr.Code)
	assert.Equal(t, "Invalid symbol.", apiErr.Msg)
	assert.Equal(t, http.StatusOK, apiErr.Status)
}

func TestSendSignedSuccessEnvelopeIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"000000","message":"success","data":[],"total":0,"success":true}`))
	})

	out, err := c.SendSigned(context.Background(), http.MethodGet, PathFiatPayments, url.Values{"transactionType": {"0"}})
	require.NoError(t, err)
	assert.IsType(t, map[string]any{}, out)
}

func TestIsErrorPayload(t *testing.T) {
	cases := []struct {
		body any
		want bool
	}{
		{map[string]any{"code": json.Number("-1121"), "msg": "Invalid symbol."}, true},
		{map[string]any{"code": "ERR", "msg": "bad"}, true},
		{map[string]any{"code": json.Number("0"), "msg": ""}, false},
		{map[string]any{"code": "000000", "message": "success"}, false},
		{map[string]any{"msg": "no code"}, false},
		{[]any{map[string]any{"code": json.Number("-1"), "msg": "row"}}, false},
	}
	for i, tc := range cases {
		assert.Equal(t, tc.want, isErrorPayload(tc.body), "case %d", i)
	}
}

func TestSendSignedNonJSONError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream down`))
	})

	_, err := c.SendSigned(context.Background(), http.MethodGet, PathMyTrades, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Msg, "upstream down")
}

func TestSendSignedTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := NewClient(testConfig(srv.URL))
	srv.Close()

	_, err := c.SendSigned(context.Background(), http.MethodGet, PathMyTrades, nil)
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestSendPublicPreservesNumbers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		assert.Empty(t, r.URL.Query().Get("signature"))
		w.Write([]byte(`{"list":[{"orderId":940708407462087195}]}`))
	})

	out, err := c.SendPublic(context.Background(), PathKlines, url.Values{"symbol": {"BTCUSDT"}})
	require.NoError(t, err)
	list := out.(map[string]any)["list"].([]any)
	assert.Equal(t, json.Number("940708407462087195"), list[0].(map[string]any)["orderId"])
}

func TestHistoryBuildsParams(t *testing.T) {
	var query url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathFiatPayments, r.URL.Path)
		query = r.URL.Query()
		w.Write([]byte(`{"code":"000000","message":"success","data":[]}`))
	})

	_, err := c.History(context.Background(), models.TransactionFiat, Options{Start: "01-01-2024", End: "27-05-2024"})
	require.NoError(t, err)
	assert.Equal(t, "0", query.Get("transactionType"))
	assert.Equal(t, "1704067200000", query.Get("beginTime"))

	_, err = c.History(context.Background(), models.TransactionType("margin"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedTransactionType)
}

func TestUSDPriceUsesKlineMidpointAndCache(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, PathKlines, r.URL.Path)
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "1733904840000", r.URL.Query().Get("startTime"))
		w.Write([]byte(`[[1733904840000,"0.1680","0.1700","0.1660","0.1690","1000",1733904899999,"169.0",10,"500","84.5","0"]]`))
	})

	at := time.Date(2024, time.December, 11, 8, 14, 39, 0, time.UTC)
	price, err := c.USDPrice(context.Background(), "PHAUSDT", at)
	require.NoError(t, err)
	assert.Equal(t, "0.168", price.String())

	_, err = c.USDPrice(context.Background(), "PHAUSDT", at.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUSDPriceNoKline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	_, err := c.USDPrice(context.Background(), "PHAUSDT", time.Now())
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestUSDPriceAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	_, err := c.USDPrice(context.Background(), "NOPEUSDT", time.Now())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(-1121), apiErr.Code)
}

func TestBalancesSkipZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAccount, r.URL.Path)
		w.Write([]byte(`{"balances":[
			{"asset":"PHA","free":"758.00000000","locked":"0.00000000"},
			{"asset":"BNB","free":"0.00000000","locked":"0.00000000"},
			{"asset":"USDT","free":"10.5","locked":"2.5"}
		]}`))
	})

	balances, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "PHA", balances[0].Asset)
	assert.Equal(t, "13", balances[1].Total().String())

	assets, err := c.HeldAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"PHA", "USDT"}, assets)
}

package binance

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptoledger/internal/window"
	"cryptoledger/models"
)

const (
	PathMyTrades         = "/api/v3/myTrades"
	PathFiatPayments     = "/sapi/v1/fiat/payments"
	PathConvertTradeFlow = "/sapi/v1/convert/tradeFlow"
	PathDepositHistory   = "/sapi/v1/capital/deposit/hisrec"
	PathWithdrawHistory  = "/sapi/v1/capital/withdraw/history"
	PathKlines           = "/api/v3/klines"
	PathAccount          = "/api/v3/account"
)

var (
	ErrUnsupportedTransactionType = errors.New("unsupported transaction type")
	ErrInvalidEndpoint            = errors.New("invalid endpoint")
	ErrInvalidDateFormat          = window.ErrInvalidDateFormat
)

var transactionPaths = map[models.TransactionType]string{
	models.TransactionTrade:    PathMyTrades,
	models.TransactionFiat:     PathFiatPayments,
	models.TransactionConvert:  PathConvertTradeFlow,
	models.TransactionDeposit:  PathDepositHistory,
	models.TransactionWithdraw: PathWithdrawHistory,
}

var knownPaths = map[string]struct{}{
	PathMyTrades:         {},
	PathFiatPayments:     {},
	PathConvertTradeFlow: {},
	PathDepositHistory:   {},
	PathWithdrawHistory:  {},
	PathKlines:           {},
	PathAccount:          {},
}

// Resolve maps a transaction type to its history endpoint.
func Resolve(t models.TransactionType) (string, error) {
	path, ok := transactionPaths[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTransactionType, string(t))
	}
	return path, nil
}

// Validate rejects any path outside the supported endpoint set.
func Validate(path string) error {
	if _, ok := knownPaths[path]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidEndpoint, path)
	}
	return nil
}

// Options carries the optional request filters. Start and End are human date
// strings; StartTime and EndTime take precedence when set.
type Options struct {
	Symbol    string
	Start     string
	End       string
	StartTime *time.Time
	EndTime   *time.Time
	Side      models.Side
}

// WindowOptions returns Options bounded by w.
func WindowOptions(w models.DateWindow, symbol string, side models.Side) Options {
	return Options{Symbol: symbol, StartTime: w.Start, EndTime: w.End, Side: side}
}

// BuildParams builds the query parameters for path. Date strings are parsed
// day first in loc and sent as epoch milliseconds.
func BuildParams(path string, opts Options, loc *time.Location) (url.Values, error) {
	if err := Validate(path); err != nil {
		return nil, err
	}

	params := url.Values{}
	if path == PathAccount {
		params.Set("omitZeroBalances", "true")
		return params, nil
	}

	// myTrades caps the time span at 24h, so trades are queried by symbol only.
	if path != PathMyTrades {
		start, err := resolveTime(opts.StartTime, opts.Start, loc)
		if err != nil {
			return nil, err
		}
		end, err := resolveTime(opts.EndTime, opts.End, loc)
		if err != nil {
			return nil, err
		}
		if start != nil {
			params.Set("startTime", epochMillis(*start))
		}
		if end != nil {
			params.Set("endTime", epochMillis(*end))
		}
	}

	if symbol := strings.TrimSpace(opts.Symbol); symbol != "" {
		params.Set("symbol", symbol)
	}

	switch path {
	case PathFiatPayments:
		transactionType := "0"
		if opts.Side == models.SideSell {
			transactionType = "1"
		}
		params.Set("transactionType", transactionType)
		if v := params.Get("startTime"); v != "" {
			params.Del("startTime")
			params.Set("beginTime", v)
		}
	case PathDepositHistory:
		params.Set("includeSource", "true")
		params.Set("status", "1")
	case PathWithdrawHistory:
		params.Set("status", "6")
	case PathKlines:
		params.Set("interval", "1m")
		params.Set("limit", "1")
	}

	return params, nil
}

func resolveTime(t *time.Time, s string, loc *time.Location) (*time.Time, error) {
	if t != nil {
		return t, nil
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parsed, err := window.ParseDate(s, loc)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func epochMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

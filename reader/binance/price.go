package binance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoledger/logger"
)

var ErrNoPrice = errors.New("no price available")

type priceKey struct {
	symbol string
	minute int64
}

var two = decimal.NewFromInt(2)

// USDPrice returns the reference price of symbol at the given instant: the
// midpoint of the high and low of the 1-minute kline containing it. Prices
// are cached per symbol and minute for the lifetime of the client.
func (c *Client) USDPrice(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error) {
	minute := at.Truncate(time.Minute)
	key := priceKey{symbol: symbol, minute: minute.UnixMilli()}
	if p, ok := c.prices[key]; ok {
		return p, nil
	}

	logger.IncrementAPIRequest()
	start := time.Now()
	klines, err := c.sdk.NewKlinesService().
		Symbol(symbol).
		Interval("1m").
		StartTime(minute.UnixMilli()).
		Limit(1).
		Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("klines %s: %w", symbol, translateError(err))
	}
	logger.LogPerformanceEntry(c.log.WithComponent(component), component, "kline_price", time.Since(start), logger.Fields{
		"symbol": symbol,
	})

	if len(klines) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s at %s", ErrNoPrice, symbol, minute.Format(time.RFC3339))
	}

	high, err := decimal.NewFromString(klines[0].High)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse kline high for %s: %w", symbol, err)
	}
	low, err := decimal.NewFromString(klines[0].Low)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse kline low for %s: %w", symbol, err)
	}

	price := high.Add(low).Div(two)
	c.prices[key] = price
	return price, nil
}

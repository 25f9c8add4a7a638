package binance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cryptoledger/logger"
)

// Balance is one non-zero spot account balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Balances returns the account's non-zero balances sorted by asset.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	logger.IncrementAPIRequest()
	start := time.Now()
	account, err := c.sdk.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", translateError(err))
	}
	logger.LogPerformanceEntry(c.log.WithComponent(component), component, "account", time.Since(start), nil)

	out := make([]Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("parse free balance of %s: %w", b.Asset, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("parse locked balance of %s: %w", b.Asset, err)
		}
		bal := Balance{Asset: b.Asset, Free: free, Locked: locked}
		if bal.Total().IsZero() {
			continue
		}
		out = append(out, bal)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// HeldAssets returns the asset codes with a non-zero balance.
func (c *Client) HeldAssets(ctx context.Context) ([]string, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, len(balances))
	for _, b := range balances {
		assets = append(assets, b.Asset)
	}
	return assets, nil
}

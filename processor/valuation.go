package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoledger/internal/symbols"
	"cryptoledger/models"
)

var ErrMissingLegs = errors.New("cannot derive transaction legs")

// PriceSource looks up the USDT price of a spot pair at an instant.
type PriceSource interface {
	USDPrice(ctx context.Context, symbol string, at time.Time) (decimal.Decimal, error)
}

// Legs is the asset pair a valued record moves between.
type Legs struct {
	FromAsset  string
	ToAsset    string
	FromAmount decimal.Decimal
	ToAmount   decimal.Decimal
}

// RecordLegs returns the from/to legs of a trade or convert record. Trades
// derive them from the pair and side: a BUY spends the quote asset for the
// base asset, a SELL the reverse.
func RecordLegs(rec models.CanonicalTransaction) (Legs, error) {
	if rec.Type == models.TransactionTrade {
		return tradeLegs(rec)
	}

	var legs Legs
	legs.FromAsset = strings.ToUpper(rec.String(models.ColumnFromAsset))
	legs.ToAsset = strings.ToUpper(rec.String(models.ColumnToAsset))
	if legs.FromAsset == "" || legs.ToAsset == "" {
		return Legs{}, fmt.Errorf("%w: record %s has no assets", ErrMissingLegs, rec.ID())
	}
	var err error
	if legs.FromAmount, err = amount(rec, models.ColumnFromAmount); err != nil {
		return Legs{}, err
	}
	if legs.ToAmount, err = amount(rec, models.ColumnToAmount); err != nil {
		return Legs{}, err
	}
	return legs, nil
}

func tradeLegs(rec models.CanonicalTransaction) (Legs, error) {
	base, quote, ok := symbols.Split(rec.String(models.ColumnPair))
	if !ok {
		return Legs{}, fmt.Errorf("%w: unknown pair %q", ErrMissingLegs, rec.String(models.ColumnPair))
	}
	qty, err := amount(rec, models.ColumnAmount)
	if err != nil {
		return Legs{}, err
	}
	quoteQty, err := amount(rec, models.ColumnValue)
	if err != nil {
		return Legs{}, err
	}

	switch rec.Side {
	case models.SideBuy:
		return Legs{FromAsset: quote, FromAmount: quoteQty, ToAsset: base, ToAmount: qty}, nil
	case models.SideSell:
		return Legs{FromAsset: base, FromAmount: qty, ToAsset: quote, ToAmount: quoteQty}, nil
	}
	return Legs{}, fmt.Errorf("%w: trade %s has no side", ErrMissingLegs, rec.ID())
}

func amount(rec models.CanonicalTransaction, column string) (decimal.Decimal, error) {
	v, ok := rec.Get(column)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: record %s has no %s", ErrMissingLegs, rec.ID(), column)
	}
	d, err := ToDecimal(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrMissingLegs, column, err)
	}
	return d, nil
}

// AttachUSDValue returns a copy of a trade or convert record carrying its USD
// value rounded to cents. When neither leg is USD denominated the destination
// amount is priced against USDT at the record's time; otherwise the USD leg
// is used directly and no price is looked up. Other types pass through.
func AttachUSDValue(ctx context.Context, rec models.CanonicalTransaction, prices PriceSource, loc *time.Location) (models.CanonicalTransaction, error) {
	if !rec.Type.Valued() {
		return rec, nil
	}

	legs, err := RecordLegs(rec)
	if err != nil {
		return rec, err
	}

	switch {
	case !symbols.IsUSD(legs.FromAsset) && !symbols.IsUSD(legs.ToAsset):
		if loc == nil {
			loc = time.Local
		}
		at, err := time.ParseInLocation(models.DatetimeLayout, rec.Datetime(), loc)
		if err != nil {
			return rec, fmt.Errorf("parse dt of record %s: %w", rec.ID(), err)
		}
		price, err := prices.USDPrice(ctx, symbols.USDTPair(legs.ToAsset), at)
		if err != nil {
			return rec, err
		}
		return rec.WithValueUSD(price.Mul(legs.ToAmount).Round(2)), nil
	case strings.HasPrefix(legs.ToAsset, "USD"):
		return rec.WithValueUSD(legs.ToAmount.Round(2)), nil
	default:
		return rec.WithValueUSD(legs.FromAmount.Round(2)), nil
	}
}

package pricing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoledger/internal/symbols"
	"cryptoledger/logger"
	"cryptoledger/models"
	"cryptoledger/processor"
)

// fiatReference prices fiat legs that are not USD denominated.
const fiatReference = "EURUSDT"

// Average is the weighted average USD value of one asset.
type Average struct {
	Asset       string
	AvgValue    decimal.Decimal
	TotalAmount decimal.Decimal
}

func (t *Table) number(row Row, col string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(row[col]))
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s of row %s: %w", col, row[models.ColumnID], err)
	}
	return d, nil
}

func rowTime(row Row, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	at, err := time.ParseInLocation(models.DatetimeLayout, row[models.ColumnDatetime], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("dt of row %s: %w", row[models.ColumnID], err)
	}
	return at, nil
}

// BackfillFiatUSD sets price_in_usd on fiat rows: the inverse of the order
// price when crypto was bought with a USD asset, otherwise the EUR/USDT
// reference price at the row's time.
func BackfillFiatUSD(ctx context.Context, t *Table, prices processor.PriceSource, loc *time.Location) error {
	if err := t.require(models.ColumnPrice, models.ColumnToAsset, models.ColumnDatetime); err != nil {
		return err
	}
	t.addColumn(models.ColumnPriceInUSD)

	for _, row := range t.Rows {
		if symbols.IsUSD(row[models.ColumnToAsset]) {
			price, err := t.number(row, models.ColumnPrice)
			if err != nil {
				return err
			}
			if price.IsZero() {
				return fmt.Errorf("zero price in row %s", row[models.ColumnID])
			}
			row[models.ColumnPriceInUSD] = decimal.NewFromInt(1).Div(price).String()
			continue
		}

		at, err := rowTime(row, loc)
		if err != nil {
			return err
		}
		price, err := prices.USDPrice(ctx, fiatReference, at)
		if err != nil {
			return err
		}
		row[models.ColumnPriceInUSD] = price.String()
	}
	return nil
}

// BackfillConvertUSD sets value_usd on convert rows. Rows with a USD leg copy
// that leg's amount; the rest price the source amount against USDT.
func BackfillConvertUSD(ctx context.Context, t *Table, prices processor.PriceSource, loc *time.Location) error {
	if err := t.require(models.ColumnFromAsset, models.ColumnToAsset, models.ColumnFromAmount, models.ColumnToAmount); err != nil {
		return err
	}
	t.addColumn(models.ColumnValueUSD)

	for _, row := range t.Rows {
		from, to := row[models.ColumnFromAsset], row[models.ColumnToAsset]

		switch {
		case symbols.IsUSD(from):
			row[models.ColumnValueUSD] = row[models.ColumnFromAmount]
		case symbols.IsUSD(to):
			row[models.ColumnValueUSD] = row[models.ColumnToAmount]
		default:
			amount, err := t.number(row, models.ColumnFromAmount)
			if err != nil {
				return err
			}
			at, err := rowTime(row, loc)
			if err != nil {
				return err
			}
			price, err := prices.USDPrice(ctx, symbols.USDTPair(from), at)
			if err != nil {
				return err
			}
			row[models.ColumnValueUSD] = amount.Mul(price).String()
		}
	}
	return nil
}

// Backfill applies the USD backfill matching kind.
func Backfill(ctx context.Context, t *Table, kind models.TransactionType, prices processor.PriceSource, loc *time.Location) error {
	switch kind {
	case models.TransactionFiat:
		return BackfillFiatUSD(ctx, t, prices, loc)
	case models.TransactionConvert:
		return BackfillConvertUSD(ctx, t, prices, loc)
	}
	return fmt.Errorf("no USD backfill for %s exports", kind)
}

// WeightedAverage groups rows by the asset received (BUY) or spent (SELL)
// and returns each asset's amount-weighted average price. Fiat rows weight
// the order price, convert rows divide the summed value_usd by the amount.
func WeightedAverage(t *Table, kind models.TransactionType, side models.Side) ([]Average, error) {
	assetCol, amountCol := models.ColumnToAsset, models.ColumnToAmount
	if side == models.SideSell {
		assetCol, amountCol = models.ColumnFromAsset, models.ColumnFromAmount
	}

	var valueCol string
	switch kind {
	case models.TransactionFiat:
		valueCol = models.ColumnPrice
	case models.TransactionConvert:
		valueCol = models.ColumnValueUSD
	default:
		return nil, fmt.Errorf("no average for %s exports", kind)
	}
	if err := t.require(assetCol, amountCol, valueCol); err != nil {
		return nil, err
	}

	type sums struct{ weighted, amount decimal.Decimal }
	byAsset := make(map[string]*sums)
	for _, row := range t.Rows {
		amount, err := t.number(row, amountCol)
		if err != nil {
			return nil, err
		}
		value, err := t.number(row, valueCol)
		if err != nil {
			return nil, err
		}
		if kind == models.TransactionFiat {
			value = value.Mul(amount)
		}

		asset := row[assetCol]
		s, ok := byAsset[asset]
		if !ok {
			s = &sums{}
			byAsset[asset] = s
		}
		s.weighted = s.weighted.Add(value)
		s.amount = s.amount.Add(amount)
	}

	out := make([]Average, 0, len(byAsset))
	for asset, s := range byAsset {
		avg := Average{Asset: asset, TotalAmount: s.amount}
		if s.amount.IsZero() {
			logger.GetLogger().WithComponent("pricing").WithFields(logger.Fields{"asset": asset}).Warn("zero total amount, average left at zero")
		} else {
			avg.AvgValue = s.weighted.Div(s.amount)
		}
		out = append(out, avg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

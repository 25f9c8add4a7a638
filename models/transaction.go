package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

/////////////////////////////////////////////////////////////////////////////
//////////////////////////// TRANSACTION TYPES //////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// TransactionType identifies one of the supported Binance history endpoints.
type TransactionType string

const (
	TransactionTrade    TransactionType = "trade"
	TransactionFiat     TransactionType = "fiat"
	TransactionConvert  TransactionType = "convert"
	TransactionDeposit  TransactionType = "deposit"
	TransactionWithdraw TransactionType = "withdraw"
)

// TransactionTypes lists every supported type in a stable order.
var TransactionTypes = []TransactionType{
	TransactionTrade,
	TransactionFiat,
	TransactionConvert,
	TransactionDeposit,
	TransactionWithdraw,
}

// ParseTransactionType maps a user supplied tag onto the closed enumeration.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unsupported transaction type %q", s)
	}
	return t, nil
}

// Valid reports whether t is part of the enumeration.
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Valued reports whether records of this type get a USD valuation.
func (t TransactionType) Valued() bool {
	return t == TransactionTrade || t == TransactionConvert
}

func (t TransactionType) String() string { return string(t) }

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// FIELD MAPPING ////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// FieldKind tags a canonical field with how its value must be treated.
type FieldKind string

const (
	FieldText      FieldKind = "text"
	FieldTimestamp FieldKind = "timestamp"
	FieldAsset     FieldKind = "asset"
	FieldAmount    FieldKind = "amount"
)

// Valid reports whether k is a known kind. The empty kind is accepted and
// resolved at config load time.
func (k FieldKind) Valid() bool {
	switch k {
	case "", FieldText, FieldTimestamp, FieldAsset, FieldAmount:
		return true
	}
	return false
}

// FieldMapping binds a dot-separated source path in the raw API record to a
// canonical column name.
type FieldMapping struct {
	Source string
	Name   string
	Kind   FieldKind
}

// TransactionTypeConfig is the immutable mapping used to normalize one
// transaction type.
type TransactionTypeConfig struct {
	Type   TransactionType
	Fields []FieldMapping
	// Timestamp is the raw path feeding the "dt" column when none of the
	// mapped fields is named "dt".
	Timestamp string
	// DropFailed removes envelope entries whose status is "Failed".
	DropFailed bool
}

// Keys returns the canonical column names in configuration order.
func (c TransactionTypeConfig) Keys() []string {
	keys := make([]string, 0, len(c.Fields)+1)
	for _, f := range c.Fields {
		keys = append(keys, f.Name)
	}
	return keys
}

// ResponseKeys returns the raw source paths in configuration order.
func (c TransactionTypeConfig) ResponseKeys() []string {
	keys := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		keys = append(keys, f.Source)
	}
	return keys
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// RECORDS /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawTransaction is a single record exactly as returned by the exchange.
type RawTransaction map[string]any

// Side is the trade direction derived from the isBuyer flag.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts buy or sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unsupported side %q", s)
}

// Canonical column names shared across components.
const (
	ColumnID          = "id"
	ColumnDatetime    = "dt"
	ColumnTransaction = "transaction"
	ColumnPair        = "pair"
	ColumnAmount      = "amount"
	ColumnValue       = "value"
	ColumnFromAsset   = "from_asset"
	ColumnToAsset     = "to_asset"
	ColumnFromAmount  = "from_amount"
	ColumnToAmount    = "to_amount"
	ColumnPrice       = "price"
	ColumnPriceInUSD  = "price_in_usd"
	ColumnSide        = "side"
	ColumnValueUSD    = "value_usd"
)

// DatetimeLayout is the readable timestamp format used in every export.
const DatetimeLayout = "2006-01-02 15:04:05"

// CanonicalTransaction is the unified record produced by the normalizer.
// Keys keeps column order; Values holds the resolved value for every key.
type CanonicalTransaction struct {
	Type     TransactionType
	Keys     []string
	Values   map[string]any
	Side     Side
	ValueUSD decimal.NullDecimal
}

// Get returns the value stored under key.
func (t CanonicalTransaction) Get(key string) (any, bool) {
	v, ok := t.Values[key]
	return v, ok
}

// String returns the value under key formatted for tabular output.
func (t CanonicalTransaction) String(key string) string {
	v, ok := t.Values[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Datetime returns the readable "dt" column.
func (t CanonicalTransaction) Datetime() string {
	return t.String(ColumnDatetime)
}

// ID returns the record id formatted as a string.
func (t CanonicalTransaction) ID() string {
	return t.String(ColumnID)
}

// WithValueUSD returns a copy of t carrying the given USD valuation.
func (t CanonicalTransaction) WithValueUSD(v decimal.Decimal) CanonicalTransaction {
	out := t
	out.ValueUSD = decimal.NullDecimal{Decimal: v, Valid: true}
	return out
}

// Columns returns the export columns for this record: the mapped keys plus
// side and value_usd when they are set.
func (t CanonicalTransaction) Columns() []string {
	cols := append([]string(nil), t.Keys...)
	if t.Side != "" {
		cols = append(cols, ColumnSide)
	}
	if t.ValueUSD.Valid {
		cols = append(cols, ColumnValueUSD)
	}
	return cols
}

// Cell returns the formatted value of any export column, including the
// derived side and value_usd columns.
func (t CanonicalTransaction) Cell(column string) string {
	switch column {
	case ColumnSide:
		return string(t.Side)
	case ColumnValueUSD:
		if !t.ValueUSD.Valid {
			return ""
		}
		return t.ValueUSD.Decimal.StringFixed(2)
	}
	return t.String(column)
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// WINDOWS ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// DateWindow is a bounded query range. A window with both bounds nil means
// "no date filter".
type DateWindow struct {
	Start *time.Time
	End   *time.Time
}

// Unbounded reports whether w is the no-filter sentinel.
func (w DateWindow) Unbounded() bool {
	return w.Start == nil && w.End == nil
}

func (w DateWindow) String() string {
	if w.Unbounded() {
		return "unbounded"
	}
	format := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("02-01-2006")
	}
	return format(w.Start) + " to " + format(w.End)
}

package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoledger/config"
	"cryptoledger/logger"
	"cryptoledger/models"
)

const isBuyerKey = "isBuyer"

// FieldError reports why a raw record was left out of the output.
type FieldError struct {
	Field  string
	Source string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s (%s): %s", e.Field, e.Source, e.Reason)
}

// fieldResult is the outcome of resolving one mapped field.
type fieldResult struct {
	name  string
	value any
	err   *FieldError
}

// Normalizer turns raw history responses into canonical records.
type Normalizer struct {
	configs config.TransactionConfigs
	loc     *time.Location
	log     *logger.Log
}

func NewNormalizer(cfgs config.TransactionConfigs, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{configs: cfgs, loc: loc, log: logger.GetLogger()}
}

// Process extracts and normalizes every record of a decoded response.
func (n *Normalizer) Process(raw any, t models.TransactionType) ([]models.CanonicalTransaction, error) {
	cfg, err := n.configs.Select(t)
	if err != nil {
		return nil, err
	}
	raws := Extract(raw, t, cfg.DropFailed)
	logger.RecordFetched(len(raws))
	return n.normalize(raws, cfg), nil
}

// Normalize maps each raw record through cfg. A record missing any mapped
// field is dropped entirely.
func Normalize(raws []models.RawTransaction, cfg models.TransactionTypeConfig, loc *time.Location) []models.CanonicalTransaction {
	return NewNormalizer(nil, loc).normalize(raws, cfg)
}

func (n *Normalizer) normalize(raws []models.RawTransaction, cfg models.TransactionTypeConfig) []models.CanonicalTransaction {
	log := n.log.WithComponent("normalizer").WithFields(logger.Fields{"transaction": cfg.Type.String()})

	out := make([]models.CanonicalTransaction, 0, len(raws))
	dropped := 0
	for i, raw := range raws {
		rec, err := NormalizeRecord(raw, cfg, n.loc)
		if err != nil {
			dropped++
			log.WithFields(logger.Fields{"index": i}).WithError(err).Debug("record dropped")
			continue
		}
		out = append(out, rec)
	}

	logger.RecordNormalized(len(out), dropped)
	if dropped > 0 {
		log.WithFields(logger.Fields{"kept": len(out), "dropped": dropped}).Info("records dropped during normalization")
	}
	return out
}

// NormalizeRecord builds one canonical record, or returns the first field
// that could not be resolved.
func NormalizeRecord(raw models.RawTransaction, cfg models.TransactionTypeConfig, loc *time.Location) (models.CanonicalTransaction, error) {
	fields := cfg.Fields
	if cfg.Timestamp != "" && !hasField(cfg, models.ColumnDatetime) {
		dt := models.FieldMapping{Source: cfg.Timestamp, Name: models.ColumnDatetime, Kind: models.FieldTimestamp}
		fields = append([]models.FieldMapping{dt}, fields...)
	}

	results := make([]fieldResult, 0, len(fields))
	for _, f := range fields {
		results = append(results, resolveField(raw, f, loc))
	}

	rec := models.CanonicalTransaction{
		Type:   cfg.Type,
		Keys:   make([]string, 0, len(results)+1),
		Values: make(map[string]any, len(results)+1),
	}
	for _, r := range results {
		if r.err != nil {
			return models.CanonicalTransaction{}, r.err
		}
		rec.Keys = append(rec.Keys, r.name)
		rec.Values[r.name] = r.value
	}

	rec.Keys = append(rec.Keys, models.ColumnTransaction)
	rec.Values[models.ColumnTransaction] = cfg.Type.String()

	if buyer, ok := raw[isBuyerKey].(bool); ok {
		rec.Side = models.SideSell
		if buyer {
			rec.Side = models.SideBuy
		}
	}

	return rec, nil
}

func hasField(cfg models.TransactionTypeConfig, name string) bool {
	for _, f := range cfg.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func resolveField(raw models.RawTransaction, f models.FieldMapping, loc *time.Location) fieldResult {
	fail := func(reason string) fieldResult {
		return fieldResult{name: f.Name, err: &FieldError{Field: f.Name, Source: f.Source, Reason: reason}}
	}

	v, ok := SafePathGet(map[string]any(raw), f.Source)
	if !ok {
		return fail("missing")
	}

	switch f.Kind {
	case models.FieldTimestamp:
		dt, ok := ReadableDatetime(v, loc)
		if !ok {
			return fail(fmt.Sprintf("unreadable timestamp %v", v))
		}
		return fieldResult{name: f.Name, value: dt}
	case models.FieldAsset:
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return fail("asset is not a string")
		}
		return fieldResult{name: f.Name, value: strings.ToUpper(strings.TrimSpace(s))}
	case models.FieldAmount:
		if _, err := ToDecimal(v); err != nil {
			return fail(err.Error())
		}
	}
	return fieldResult{name: f.Name, value: v}
}

// ReadableDatetime renders an epoch-millisecond value as local
// "2006-01-02 15:04:05", truncated to whole seconds. Strings already in that
// layout are returned unchanged, so the conversion is idempotent.
func ReadableDatetime(v any, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.Local
	}

	var ms int64
	switch t := v.(type) {
	case json.Number:
		n, err := parseMillis(string(t))
		if err != nil {
			return "", false
		}
		ms = n
	case int:
		ms = int64(t)
	case int64:
		ms = t
	case float64:
		ms = int64(math.Floor(t))
	case string:
		s := strings.TrimSpace(t)
		if _, err := time.ParseInLocation(models.DatetimeLayout, s, loc); err == nil {
			return s, true
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.In(loc).Format(models.DatetimeLayout), true
		}
		n, err := parseMillis(s)
		if err != nil {
			return "", false
		}
		ms = n
	default:
		return "", false
	}

	return time.UnixMilli(ms).In(loc).Format(models.DatetimeLayout), true
}

func parseMillis(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(f)), nil
}

// ToDecimal converts a decoded JSON amount to a decimal.
func ToDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case json.Number:
		return decimal.NewFromString(string(t))
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	}
	return decimal.Zero, fmt.Errorf("not a number: %v", v)
}

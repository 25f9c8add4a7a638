package processor

import (
	"strings"

	"cryptoledger/models"
)

// Envelope keys of the wrapped history responses.
const (
	convertListKey = "list"
	fiatDataKey    = "data"
	fiatStatusKey  = "status"
	fiatFailed     = "Failed"
)

// Extract pulls the record list out of a decoded history response. Convert
// responses wrap records under "list", fiat responses under "data"; the other
// types return a bare list. A missing envelope key yields no records.
func Extract(raw any, t models.TransactionType, dropFailed bool) []models.RawTransaction {
	var items any
	switch t {
	case models.TransactionConvert:
		items, _ = SafePathGet(raw, convertListKey)
	case models.TransactionFiat:
		items, _ = SafePathGet(raw, fiatDataKey)
	default:
		items = raw
	}

	list, ok := items.([]any)
	if !ok {
		return nil
	}

	out := make([]models.RawTransaction, 0, len(list))
	for _, item := range list {
		rec, ok := asMap(item)
		if !ok {
			continue
		}
		if t == models.TransactionFiat && dropFailed {
			if status, _ := rec[fiatStatusKey].(string); strings.EqualFold(status, fiatFailed) {
				continue
			}
		}
		out = append(out, models.RawTransaction(rec))
	}
	return out
}

// SafePathGet walks a dot-separated path through nested maps. A sequence met
// along the way is entered at its first element. Any miss, including an
// explicit null, returns (nil, false).
func SafePathGet(record any, path string) (any, bool) {
	cur := record
	for _, key := range strings.Split(path, ".") {
		if seq, ok := cur.([]any); ok {
			if len(seq) == 0 {
				return nil, false
			}
			cur = seq[0]
		}
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.RawTransaction:
		return m, true
	}
	return nil, false
}

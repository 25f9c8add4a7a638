package metrics

import (
	"net/http"
	"strconv"

	"cryptoledger/logger"
)

// usedWeightHeaders are checked in order; the first numeric one wins.
var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-MBX-USED-WEIGHT-1M", "1m"},
	{"X-MBX-USED-WEIGHT", "1m"},
	{"X-SAPI-USED-IP-WEIGHT-1M", "1m"},
	{"X-SAPI-USED-UID-WEIGHT-1M", "1m"},
}

// ReportUsedWeight reads the request weight Binance reports for the current
// minute and emits it as a gauge. It returns the parsed weight and whether a
// header was found.
func ReportUsedWeight(log *logger.Log, header http.Header, component, endpoint string) (float64, bool) {
	if log == nil || header == nil {
		return 0, false
	}

	for _, h := range usedWeightHeaders {
		value := header.Get(h.key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"endpoint": endpoint,
				"header":   h.key,
				"value":    value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		log.LogMetric(component, "used_weight", used, "gauge", logger.Fields{
			"exchange": "binance",
			"endpoint": endpoint,
			"window":   h.window,
		})
		return used, true
	}

	return 0, false
}

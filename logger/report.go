package logger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	runStarted      = time.Now()
	apiRequests     int64
	apiErrors       int64
	recordsFetched  int64
	recordsNormal   int64
	recordsDropped  int64
	recordsExported int64
	bytesWritten    int64
	components      sync.Map // map[string]*componentStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// IncrementAPIRequest counts one signed or public request sent to the exchange.
func IncrementAPIRequest() {
	atomic.AddInt64(&apiRequests, 1)
}

// IncrementAPIError counts one exchange-level error response.
func IncrementAPIError() {
	atomic.AddInt64(&apiErrors, 1)
}

// RecordFetched counts raw records extracted from response envelopes.
func RecordFetched(n int) {
	atomic.AddInt64(&recordsFetched, int64(n))
}

// RecordNormalized counts records that survived normalization and those
// dropped because a mapped field was missing.
func RecordNormalized(kept, dropped int) {
	atomic.AddInt64(&recordsNormal, int64(kept))
	atomic.AddInt64(&recordsDropped, int64(dropped))
}

// RecordExport counts records and bytes written by one exporter.
func RecordExport(records int, size int64) {
	atomic.AddInt64(&recordsExported, int64(records))
	atomic.AddInt64(&bytesWritten, size)
}

// ResetReport clears all run counters.
func ResetReport() {
	runStarted = time.Now()
	for _, c := range []*int64{&apiRequests, &apiErrors, &recordsFetched, &recordsNormal, &recordsDropped, &recordsExported, &bytesWritten} {
		atomic.StoreInt64(c, 0)
	}
	components.Range(func(k, _ any) bool {
		components.Delete(k)
		return true
	})
}

// Snapshot returns the current run counters keyed by name.
func Snapshot() map[string]int64 {
	out := map[string]int64{
		"api_requests":       atomic.LoadInt64(&apiRequests),
		"api_errors":         atomic.LoadInt64(&apiErrors),
		"records_fetched":    atomic.LoadInt64(&recordsFetched),
		"records_normalized": atomic.LoadInt64(&recordsNormal),
		"records_dropped":    atomic.LoadInt64(&recordsDropped),
		"records_exported":   atomic.LoadInt64(&recordsExported),
		"bytes_written":      atomic.LoadInt64(&bytesWritten),
	}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		out["warns_"+k.(string)] = atomic.LoadInt64(&cs.warns)
		out["errors_"+k.(string)] = atomic.LoadInt64(&cs.errors)
		return true
	})
	return out
}

// LogReport logs the run counters and publishes them to CloudWatch when
// metrics are enabled.
func LogReport(ctx context.Context, log *Log) {
	snap := Snapshot()

	fields := Fields{"elapsed_ms": time.Since(runStarted).Milliseconds()}
	names := make([]string, 0, len(snap))
	for name, v := range snap {
		fields[name] = v
		names = append(names, name)
	}
	log.WithComponent("report").WithFields(fields).Info("run report")

	sort.Strings(names)
	data := make([]cwtypes.MetricDatum, 0, len(names))
	for _, name := range names {
		unit := cwtypes.StandardUnitCount
		if name == "bytes_written" {
			unit = cwtypes.StandardUnitBytes
		}
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       unit,
			Value:      aws.Float64(float64(snap[name])),
		})
	}
	publishMetrics(ctx, data)
}

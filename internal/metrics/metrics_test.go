package metrics

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"cryptoledger/logger"
)

type recorder struct {
	names []string
}

func (r *recorder) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	for _, d := range in.MetricData {
		r.names = append(r.names, *d.MetricName)
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func quietLogger() *logger.Log {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func TestReportUsedWeight(t *testing.T) {
	rec := &recorder{}
	logger.SetMetricPublisher(rec, "Test")
	t.Cleanup(func() { logger.SetMetricPublisher(nil, "") })

	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "123.5")

	weight, ok := ReportUsedWeight(quietLogger(), header, "binance_client", "/api/v3/myTrades")
	if !ok {
		t.Fatalf("expected metric to be reported")
	}
	if weight != 123.5 {
		t.Fatalf("unexpected weight: %v", weight)
	}
	if len(rec.names) != 1 || rec.names[0] != "used_weight" {
		t.Fatalf("unexpected published metrics: %v", rec.names)
	}
}

func TestReportUsedWeightFallsBackOnBadHeader(t *testing.T) {
	header := http.Header{}
	header.Set("X-MBX-USED-WEIGHT-1M", "n/a")
	header.Set("X-SAPI-USED-IP-WEIGHT-1M", "7")

	weight, ok := ReportUsedWeight(quietLogger(), header, "binance_client", "/sapi/v1/fiat/payments")
	if !ok || weight != 7 {
		t.Fatalf("got (%v, %v), want (7, true)", weight, ok)
	}
}

func TestReportUsedWeightMissing(t *testing.T) {
	if _, ok := ReportUsedWeight(quietLogger(), http.Header{}, "binance_client", "/api/v3/klines"); ok {
		t.Fatalf("expected no metric without headers")
	}
	if _, ok := ReportUsedWeight(nil, http.Header{}, "binance_client", "/api/v3/klines"); ok {
		t.Fatalf("expected no metric without logger")
	}
}

func TestReportExportWarnsOnUploadErrors(t *testing.T) {
	var buf bytes.Buffer
	log := logger.Logger()
	log.SetOutput(&buf)

	ReportExport(log, "exporter", ExportStats{Transaction: "trade", RecordsWritten: 2, FilesWritten: 1, BytesWritten: 10, UploadErrors: 1})
	if !strings.Contains(buf.String(), "export finished with upload errors") {
		t.Fatalf("expected warn summary, got %s", buf.String())
	}
}

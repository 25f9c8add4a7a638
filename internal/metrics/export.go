package metrics

import "cryptoledger/logger"

// ExportStats holds the outcome of exporting one transaction table.
type ExportStats struct {
	Transaction    string
	RecordsWritten int64
	FilesWritten   int64
	BytesWritten   int64
	Duplicates     int64
	UploadErrors   int64
}

// ReportExport emits export metrics for one transaction type and logs a
// summary line, at warn level when uploads failed.
func ReportExport(log *logger.Log, component string, stats ExportStats) {
	l := log.WithComponent(component)
	dims := func() logger.Fields { return logger.Fields{"transaction": stats.Transaction} }

	avgBytesPerFile := float64(0)
	if stats.FilesWritten > 0 {
		avgBytesPerFile = float64(stats.BytesWritten) / float64(stats.FilesWritten)
	}

	l.LogMetric(component, "records_written", stats.RecordsWritten, "counter", dims())
	l.LogMetric(component, "files_written", stats.FilesWritten, "counter", dims())
	l.LogMetric(component, "bytes_written", stats.BytesWritten, "bytes", dims())
	l.LogMetric(component, "duplicates_skipped", stats.Duplicates, "counter", dims())
	l.LogMetric(component, "upload_errors", stats.UploadErrors, "counter", dims())

	entry := l.WithFields(logger.Fields{
		"transaction":        stats.Transaction,
		"records_written":    stats.RecordsWritten,
		"files_written":      stats.FilesWritten,
		"bytes_written":      stats.BytesWritten,
		"duplicates_skipped": stats.Duplicates,
		"upload_errors":      stats.UploadErrors,
		"avg_bytes_per_file": avgBytesPerFile,
	})

	if stats.UploadErrors > 0 {
		entry.Warn("export finished with upload errors")
		return
	}
	entry.Info("export finished")
}
